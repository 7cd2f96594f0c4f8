// Package memfmt reads and writes the text memory images used to initialize
// block RAM: Verilog .mem dumps and Xilinx .coe coefficient files.
package memfmt

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WordsPerLine is how many words WriteMem puts on one line.
const WordsPerLine = 8

var hexToken = regexp.MustCompile(`[0-9A-Fa-f]+`)

// WriteMem dumps words as a .mem image that starts at byte address base. The
// address directive counts words, as $readmemh expects.
func WriteMem(w io.Writer, base uint64, words []uint32) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "@%08X\n", base/4)

	for i := 0; i < len(words); i += WordsPerLine {
		end := min(i+WordsPerLine, len(words))

		tokens := make([]string, 0, end-i)
		for _, word := range words[i:end] {
			tokens = append(tokens, fmt.Sprintf("%08X", word))
		}

		fmt.Fprintln(bw, strings.Join(tokens, " "))
	}

	return bw.Flush()
}

// ConvertMemToCOE rewrites a .mem image as a .coe file and returns the number
// of values written. Address directives only delimit sections; the values are
// emitted in file order. Lines starting with # or // are skipped, and
// malformed directives are logged and skipped.
func ConvertMemToCOE(r io.Reader, w io.Writer, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var values []string

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "", strings.HasPrefix(line, "#"), strings.HasPrefix(line, "//"):
			continue
		case strings.HasPrefix(line, "@"):
			addr := strings.TrimSpace(line[1:])
			if _, err := strconv.ParseUint(addr, 16, 64); err != nil {
				logger.Warn("invalid address directive",
					zap.String("address", addr),
					zap.Int("line", lineNum))
				continue
			}

			logger.Debug("address section",
				zap.String("address", addr),
				zap.Int("line", lineNum))

			continue
		}

		for _, token := range hexToken.FindAllString(line, -1) {
			values = append(values, padHex(token))
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read mem image: %w", err)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("memory_initialization_radix=16;\n")
	bw.WriteString("memory_initialization_vector=\n")

	for i, v := range values {
		if i < len(values)-1 {
			bw.WriteString(v + ",\n")
		} else {
			bw.WriteString(v + ";")
		}
	}

	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write coe file: %w", err)
	}

	logger.Info("converted mem image",
		zap.Int("values", len(values)))

	return len(values), nil
}

func padHex(token string) string {
	token = strings.ToUpper(token)
	if len(token) < 4 {
		token = strings.Repeat("0", 4-len(token)) + token
	}

	return token
}
