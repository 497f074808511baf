package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tunevault/tunevault-go/internal/toolexec"
)

// Fingerprint is the chromaprint output for one file.
type Fingerprint struct {
	Duration    float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

// Calculator runs fpcalc over the first Length seconds of a file.
type Calculator struct {
	Binary  string
	Length  int
	Timeout time.Duration
}

// Compute returns the fingerprint of path.
func (c Calculator) Compute(ctx context.Context, path string) (Fingerprint, error) {
	length := c.Length
	if length <= 0 {
		length = 30
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	res, err := toolexec.Run(ctx, toolexec.Command{
		Name:        "fpcalc",
		Binary:      c.Binary,
		Args:        []string{"-json", "-length", strconv.Itoa(length), path},
		Timeout:     timeout,
		StdoutLimit: 256 << 10,
	})
	if err != nil {
		return Fingerprint{}, err
	}
	return parseFpcalc(res.Stdout)
}

// parseFpcalc accepts both the -json output and the plain KEY=VALUE format.
func parseFpcalc(out []byte) (Fingerprint, error) {
	trimmed := strings.TrimSpace(string(out))
	var fp Fingerprint

	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &fp); err != nil {
			return Fingerprint{}, fmt.Errorf("fpcalc parse: %w", err)
		}
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
			if !ok {
				continue
			}
			switch key {
			case "DURATION":
				fp.Duration, _ = strconv.ParseFloat(value, 64)
			case "FINGERPRINT":
				fp.Fingerprint = value
			}
		}
	}

	if fp.Fingerprint == "" {
		return Fingerprint{}, fmt.Errorf("fpcalc returned no fingerprint")
	}
	if fp.Duration <= 0 {
		return Fingerprint{}, fmt.Errorf("fpcalc returned no duration")
	}
	return fp, nil
}
