//go:build !linux

package cmd

import (
	"errors"

	"github.com/sarchlab/bfsaccel/csr"
)

func openRegisters(string, uint64, uint64) (csr.Registers, func(), error) {
	return nil, nil, errors.New("mapping device registers requires linux")
}
