package driver

//go:generate mockgen -destination "mock_csr_test.go" -package driver_test -write_package_comment=false github.com/sarchlab/bfsaccel/csr Registers
