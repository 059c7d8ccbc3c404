package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Duration is a time.Duration written as a string such as "90s", "1h30m"
// or "1d".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid duration %q", value.Line, s)
	}
	if parsed < 0 {
		return errors.Newf("line %d: duration must be >= 0, got %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ByteSize is a byte count written as a Kubernetes quantity such as
// "64Mi" or "1G", or as a percentage of system memory such as "5%".
type ByteSize int64

func (b ByteSize) String() string {
	return resource.NewQuantity(int64(b), resource.BinarySI).String()
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	n, err := ParseByteSize(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*b = n
	return nil
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// ParseByteSize parses a quantity or a percentage of system memory.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v <= 0 || v > 100 {
			return 0, errors.Newf("invalid memory percentage %q", s)
		}
		total := systemMemory()
		if total == 0 {
			return 0, errors.Newf("cannot resolve %q: system memory is unknown", s)
		}
		return ByteSize(float64(total) * v / 100), nil
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", s)
	}
	if q.Sign() < 0 {
		return 0, errors.Newf("size must be >= 0, got %q", s)
	}
	return ByteSize(q.Value()), nil
}

// systemMemory returns the total system memory in bytes, or 0 when it
// cannot be read.
var systemMemory = func() uint64 {
	if vm, err := mem.VirtualMemory(); err == nil {
		return vm.Total
	}
	return 0
}
