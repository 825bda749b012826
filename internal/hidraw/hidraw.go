// Package hidraw talks to USB HID devices through the Linux hidraw driver.
//
// It covers exactly what a report-streaming sensor needs: locate the device
// node by its USB manufacturer/product strings, send a feature report, and
// read input reports.
package hidraw

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultManufacturer = "Holtek"
	DefaultProduct      = "USB-zyTemp"
)

// ErrNotFound is returned by Find when no device matches.
var ErrNotFound = errors.New("hidraw: no matching device")

var sysClassRoot = "/sys/class/hidraw"

var devRoot = "/dev"

// Info describes one hidraw node.
type Info struct {
	Path         string
	Manufacturer string
	Product      string
	VendorID     uint16
	ProductID    uint16
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s %s, VID=%04x, PID=%04x)", i.Path, i.Manufacturer, i.Product, i.VendorID, i.ProductID)
}

// Find lists hidraw nodes whose USB manufacturer and product strings match
// exactly, ordered by node name.
func Find(manufacturer, product string) ([]Info, error) {
	all, err := Enumerate()
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, in := range all {
		if in.Manufacturer == manufacturer && in.Product == product {
			out = append(out, in)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w (manufacturer=%q product=%q)", ErrNotFound, manufacturer, product)
	}
	return out, nil
}

// Enumerate lists every hidraw node known to sysfs.
func Enumerate() ([]Info, error) {
	entries, err := os.ReadDir(sysClassRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("hidraw: enumerate: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "hidraw") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return nodeIndex(names[i]) < nodeIndex(names[j]) })

	out := make([]Info, 0, len(names))
	for _, name := range names {
		out = append(out, describe(name))
	}
	return out, nil
}

func nodeIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "hidraw"))
	if err != nil {
		return -1
	}
	return n
}

// describe reads what sysfs knows about one node. The HID device sits below
// the USB interface, which sits below the USB device carrying the
// manufacturer and product strings.
func describe(name string) Info {
	in := Info{Path: filepath.Join(devRoot, name)}
	hidDir := filepath.Join(sysClassRoot, name, "device")

	ue := readUevent(filepath.Join(hidDir, "uevent"))
	if id, ok := ue["HID_ID"]; ok {
		in.VendorID, in.ProductID = parseHIDID(id)
	}

	if resolved, err := filepath.EvalSymlinks(hidDir); err == nil {
		usbDev := filepath.Dir(filepath.Dir(resolved))
		in.Manufacturer = readAttr(filepath.Join(usbDev, "manufacturer"))
		in.Product = readAttr(filepath.Join(usbDev, "product"))
	}
	if in.Manufacturer == "" && in.Product == "" {
		// HID_NAME is "<manufacturer> <product>".
		if hn := ue["HID_NAME"]; hn != "" {
			if i := strings.LastIndexByte(hn, ' '); i > 0 {
				in.Manufacturer, in.Product = hn[:i], hn[i+1:]
			} else {
				in.Product = hn
			}
		}
	}
	return in
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readUevent(path string) map[string]string {
	out := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		k, v, ok := strings.Cut(s.Text(), "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// parseHIDID parses "BBBB:VVVVVVVV:PPPPPPPP".
func parseHIDID(s string) (vid, pid uint16) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0
	}
	v, err1 := strconv.ParseUint(parts[1], 16, 32)
	p, err2 := strconv.ParseUint(parts[2], 16, 32)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return uint16(v), uint16(p)
}
