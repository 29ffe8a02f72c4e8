package mocks

//go:generate mockery --name RecordStore --srcpkg github.com/dairytrack/dairytrack/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
