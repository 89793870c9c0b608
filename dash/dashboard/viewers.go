package dashboard

import (
	"context"
	"sync"

	"github.com/securedataops/dataops-dashboard/dash"
)

// viewerSet reference-counts stream clients. The first viewer mounts the
// monitor and the last one to leave unmounts it.
type viewerSet struct {
	monitor *dash.Monitor

	mu sync.Mutex
	n  int
}

func (v *viewerSet) acquire(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.n == 0 {
		if err := v.monitor.Mount(ctx); err != nil {
			return err
		}
	}
	v.n++
	return nil
}

func (v *viewerSet) release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.n == 0 {
		return
	}
	v.n--
	if v.n == 0 {
		v.monitor.Unmount()
	}
}

func (v *viewerSet) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.n = 0
	v.monitor.Unmount()
}

func (v *viewerSet) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.n
}
