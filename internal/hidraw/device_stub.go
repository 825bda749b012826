//go:build !linux

package hidraw

import "fmt"

type Device struct{}

func Open(path string) (*Device, error) { return nil, fmt.Errorf("hidraw: unsupported OS (need linux)") }

func (d *Device) Path() string                          { return "" }
func (d *Device) SendFeatureReport(report []byte) error { return fmt.Errorf("hidraw: unsupported OS") }
func (d *Device) Read(p []byte) (int, error)            { return 0, fmt.Errorf("hidraw: unsupported OS") }
func (d *Device) Close() error                          { return nil }
