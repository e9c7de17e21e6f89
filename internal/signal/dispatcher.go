package signal

import (
	"context"
	"fmt"
	"klineflow/internal/model"
	"sync"

	"go.uber.org/multierr"
)

// Observer 信号下游，任何实现 Deliver 的组件都可以注册
type Observer interface {
	Name() string
	Deliver(ctx context.Context, res model.ScanResult) error
}

// Dispatcher 依次投递给所有 observer，单个失败（含 panic）不影响其他
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewDispatcher(observers ...Observer) *Dispatcher {
	return &Dispatcher{observers: observers}
}

func (d *Dispatcher) Register(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

func (d *Dispatcher) Dispatch(ctx context.Context, res model.ScanResult) error {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	var errs error
	for _, o := range observers {
		if err := safeDeliver(ctx, o, res); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errs
}

func safeDeliver(ctx context.Context, o Observer, res model.ScanResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.Deliver(ctx, res)
}
