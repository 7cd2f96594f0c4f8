//go:build linux

package csr_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bfsaccel/csr"
)

var _ = Describe("MMIO", func() {
	var (
		path string
		mmio *csr.MMIO
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "regs")
		f, err := os.Create(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Truncate(int64(os.Getpagesize()))).To(Succeed())
		Expect(f.Close()).To(Succeed())

		mmio, err = csr.OpenMMIO(path, 0x100, csr.MapSize)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(mmio.Close()).To(Succeed())
	})

	It("should reflect writes in reads", func() {
		mmio.Write(csr.StartNode, 42)
		Expect(mmio.Read(csr.StartNode)).To(Equal(uint32(42)))
	})

	It("should write through to the mapped file", func() {
		mmio.Write(csr.GraphBase, 0xDEADBEEF)

		content, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		at := 0x100 + int(csr.GraphBase)
		Expect(binary.NativeEndian.Uint32(content[at : at+4])).
			To(Equal(uint32(0xDEADBEEF)))
	})

	It("should panic outside the mapped range", func() {
		Expect(func() { mmio.Read(csr.Offset(csr.MapSize)) }).To(Panic())
	})

	It("should report the mapping", func() {
		Expect(mmio.Base()).To(Equal(uint64(0x100)))
		Expect(mmio.Size()).To(Equal(csr.MapSize))
	})

	It("should fail to open a missing device", func() {
		_, err := csr.OpenMMIO(filepath.Join(GinkgoT().TempDir(), "none"), 0, csr.MapSize)
		Expect(err).To(HaveOccurred())
	})
})
