package timing

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Freq", func() {
	It("should get period", func() {
		var f = 1 * GHz
		Expect(f.Period()).To(Equal(time.Nanosecond))
	})

	It("should get the period of a 100 MHz clock", func() {
		var f = 100 * MHz
		Expect(f.Period()).To(Equal(10 * time.Nanosecond))
	})

	It("should count cycles in a duration", func() {
		var f = 100 * MHz
		Expect(f.Cycle(10 * time.Millisecond)).To(Equal(uint64(1_000_000)))
	})

	It("should convert cycles back to a duration", func() {
		var f = 1 * KHz
		Expect(f.NCycles(3)).To(Equal(3 * time.Millisecond))
	})

	It("should panic on a zero frequency", func() {
		var f Freq
		Expect(func() { f.Period() }).To(Panic())
	})

	It("should panic on negative durations", func() {
		var f = 1 * GHz
		Expect(func() { f.Cycle(-time.Second) }).To(Panic())
	})

	It("should format itself", func() {
		Expect((100 * MHz).String()).To(Equal("100.00 MHz"))
		Expect((2 * GHz).String()).To(Equal("2.00 GHz"))
		Expect((500 * Hz).String()).To(Equal("500.00 Hz"))
	})
})
