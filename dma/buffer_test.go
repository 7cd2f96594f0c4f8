package dma

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Buffer", func() {
	var (
		alloc *Allocator
		buf   *Buffer
	)

	BeforeEach(func() {
		alloc = NewAllocator(Config{Base: 0x2000, Size: 8192, Alignment: 4096}, nil)

		var err error
		buf, err = alloc.Allocate(8)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should keep writes on the host side until flushed", func() {
		buf.Write(3, 99)

		Expect(buf.Read(3)).To(Equal(uint32(99)))
		Expect(buf.IsCoherent()).To(BeFalse())

		w, _ := alloc.Storage().ReadWord(buf.Addr() + 12)
		Expect(w).To(BeZero())

		buf.Flush()

		w, _ = alloc.Storage().ReadWord(buf.Addr() + 12)
		Expect(w).To(Equal(uint32(99)))
		Expect(buf.IsCoherent()).To(BeTrue())
		Expect(buf.BytesFlushed()).To(Equal(uint64(4)))
	})

	It("should flush every dirty run", func() {
		buf.WriteWords([]uint32{1, 2, 3})
		buf.Write(6, 7)
		buf.Flush()

		words, _ := alloc.Storage().ReadWords(buf.Addr(), 8)
		Expect(words).To(Equal([]uint32{1, 2, 3, 0, 0, 0, 7, 0}))
		Expect(buf.BytesFlushed()).To(Equal(uint64(16)))
	})

	It("should observe device writes only after invalidate", func() {
		Expect(alloc.Storage().WriteWord(buf.Addr()+4, 5)).To(Succeed())

		Expect(buf.Read(1)).To(BeZero())

		buf.Invalidate()

		Expect(buf.Read(1)).To(Equal(uint32(5)))
	})

	It("should panic on out-of-range access", func() {
		Expect(func() { buf.Read(8) }).To(Panic())
		Expect(func() { buf.Write(-1, 0) }).To(Panic())
		Expect(func() { buf.WriteWords(make([]uint32, 9)) }).To(Panic())
	})

	It("should panic on use after release", func() {
		buf.Release()

		Expect(buf.IsReleased()).To(BeTrue())
		Expect(func() { buf.Read(0) }).To(Panic())
		Expect(func() { buf.Write(0, 1) }).To(Panic())
		Expect(func() { buf.Flush() }).To(Panic())
		Expect(func() { buf.Release() }).To(Panic())
		Expect(buf.String()).To(Equal("dma.Buffer(released)"))
	})

	It("should return its memory to the allocator", func() {
		buf.Release()
		Expect(alloc.NumLive()).To(BeZero())
	})
})
