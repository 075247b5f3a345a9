// Command ssbodemo runs the index-identity compute pipeline and prints the
// records read back from the structured buffer.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/math/f32"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/backend"
	_ "github.com/gogpu/compute/backend/native" // register the GPU device
	"github.com/gogpu/compute/gpucore"
)

func main() {
	var (
		name    = flag.String("backend", "", "device backend (native, software); empty selects the best available")
		variant = flag.Bool("variant", false, "start from the slot 4 variant (10 groups of 1 invocation)")
		slot    = flag.Int("slot", -1, "storage binding slot (default from the selected preset)")
		barrier = flag.String("barrier", "", "barrier after dispatch: buffer-update, client-mapped-buffer, all")
		groups  = flag.String("groups", "", "dispatch groups as X,Y,Z")
		wg      = flag.Uint("wg", 0, "workgroup size along x")
		count   = flag.Uint("count", 0, "element count")
		verbose = flag.Bool("v", false, "debug logging to stderr")
	)
	flag.Parse()

	if *verbose {
		l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		compute.SetLogger(l)
		backend.SetLogger(l)
	}

	cfg := compute.DefaultConfig()
	if *variant {
		cfg = compute.StorageSlotVariant()
	}
	opts := []compute.Option{compute.WithConfig(cfg)}
	if *slot >= 0 {
		opts = append(opts, compute.WithBindingSlot(uint32(*slot))) //nolint:gosec // checked non-negative
	}
	if *barrier != "" {
		bits, ok := gpucore.ParseBarrier(*barrier)
		if !ok {
			fail(fmt.Errorf("unknown barrier %q", *barrier))
		}
		opts = append(opts, compute.WithBarrier(bits))
	}
	if *groups != "" {
		g, err := parseGroups(*groups)
		if err != nil {
			fail(err)
		}
		opts = append(opts, compute.WithGroups(g[0], g[1], g[2]))
	}
	if *wg != 0 {
		opts = append(opts, compute.WithWorkgroupSize(uint32(*wg))) //nolint:gosec // flag value
	}
	if *count != 0 {
		opts = append(opts, compute.WithCount(uint32(*count))) //nolint:gosec // flag value
	}

	dev, err := openDevice(*name)
	if err != nil {
		fail(err)
	}
	defer dev.Close()

	r, err := compute.NewRunner(dev, opts...)
	if err != nil {
		dev.Close()
		fail(err)
	}
	records, err := r.Run()
	if err != nil {
		dev.Close()
		fail(err)
	}

	p := message.NewPrinter(language.English)
	for _, v := range records {
		p.Println(formatRecord(p, v))
	}
}

// formatRecord renders components in shortest round-trip form, without
// locale digit grouping.
func formatRecord(p *message.Printer, v f32.Vec3) string {
	c := func(x float32) string { return strconv.FormatFloat(float64(x), 'g', -1, 32) }
	return p.Sprintf("x: %s, y: %s, z: %s", c(v[0]), c(v[1]), c(v[2]))
}

func openDevice(name string) (backend.Device, error) {
	if name == "" {
		return backend.OpenDefault()
	}
	return backend.Open(name)
}

func parseGroups(s string) ([3]uint32, error) {
	var g [3]uint32
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return g, fmt.Errorf("groups %q: want X,Y,Z", s)
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return g, fmt.Errorf("groups %q: %w", s, err)
		}
		g[i] = uint32(n)
	}
	return g, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
