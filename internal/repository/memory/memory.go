package memory

import (
	"wallet_ledger/internal/repository"
)

var (
	_ repository.RecordRepository    = (*RecordRepository)(nil)
	_ repository.RoleRepository      = (*RoleRepository)(nil)
	_ repository.OperationRepository = (*OperationRepository)(nil)
)
