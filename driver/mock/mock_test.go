// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package mock_test

import (
	"testing"

	"gviegas/neo3/driver"
	_ "gviegas/neo3/driver/mock"
)

func open(t *testing.T) driver.GPU {
	for _, d := range driver.Drivers() {
		if d.Name() == "mock" {
			gpu, err := d.Open()
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			return gpu
		}
	}
	t.Fatal("mock driver did not register itself")
	return nil
}

func TestBufferVisibility(t *testing.T) {
	gpu := open(t)
	buf, err := gpu.NewBuffer(256, true, driver.UShaderRead)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if !buf.Visible() {
		t.Error("NewBuffer(visible=true): Visible() returned false")
	}
	if buf.Bytes() == nil {
		t.Error("NewBuffer(visible=true): Bytes() returned nil")
	}
	if buf.Cap() != 256 {
		t.Errorf("NewBuffer: Cap() = %d, want 256", buf.Cap())
	}

	hidden, err := gpu.NewBuffer(256, false, driver.UShaderRead)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if hidden.Bytes() != nil {
		t.Error("NewBuffer(visible=false): Bytes() returned non-nil")
	}
}

func TestCmdBufferLifecycle(t *testing.T) {
	gpu := open(t)
	cb, err := gpu.NewCmdBuffer()
	if err != nil {
		t.Fatalf("NewCmdBuffer: %v", err)
	}
	if err := cb.End(); err == nil {
		t.Error("End before Begin: expected an error")
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	ch := make(chan error, 1)
	gpu.Commit([]driver.CmdBuffer{cb}, ch)
	if err := <-ch; err != nil {
		t.Errorf("Commit: %v", err)
	}
}

func TestCommitRejectsUnendedCmdBuffer(t *testing.T) {
	gpu := open(t)
	cb, err := gpu.NewCmdBuffer()
	if err != nil {
		t.Fatalf("NewCmdBuffer: %v", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ch := make(chan error, 1)
	gpu.Commit([]driver.CmdBuffer{cb}, ch)
	if err := <-ch; err == nil {
		t.Error("Commit with an un-End'd CmdBuffer: expected an error")
	}
}

func TestImageViewBounds(t *testing.T) {
	gpu := open(t)
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 64, Height: 64, Depth: 1}, 1, 1, 1, driver.URenderTarget|driver.UShaderSample)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	if _, err := img.NewView(driver.IView2D, 0, 1, 0, 1); err != nil {
		t.Errorf("NewView: %v", err)
	}
	if _, err := img.NewView(driver.IView2D, 0, 2, 0, 1); err == nil {
		t.Error("NewView with layers exceeding the image: expected an error")
	}
}
