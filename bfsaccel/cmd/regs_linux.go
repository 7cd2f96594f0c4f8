package cmd

import "github.com/sarchlab/bfsaccel/csr"

func openRegisters(path string, base, size uint64) (csr.Registers, func(), error) {
	mmio, err := csr.OpenMMIO(path, base, size)
	if err != nil {
		return nil, nil, err
	}

	return mmio, func() { _ = mmio.Close() }, nil
}
