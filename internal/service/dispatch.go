package service

import (
	"context"
	"encoding/json"
	"fmt"

	wmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/channelstream/broker/internal/bus"
	"github.com/channelstream/broker/internal/domain/model"
	"github.com/channelstream/broker/internal/domain/registry"
)

// Dispatcher consumes the bus topics Service.Message/EditMessage/DeleteMessage
// publish to and drives the actual registry fan-out (spec.md §4.8's "spawned
// asynchronously" delivery), mirroring the teacher's Bind[T] handler wrapper
// (internal/handler/amqp/bind.go) minus the locality filter and global
// republish, which only make sense with a multi-node broker behind them.
type Dispatcher struct {
	reg *registry.Registry
	bus *bus.Bus
}

func NewDispatcher(reg *registry.Registry, b *bus.Bus) *Dispatcher {
	return &Dispatcher{reg: reg, bus: b}
}

// Run starts the three consume loops and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	errCh := make(chan error, 3)
	go func() { errCh <- bus.Run(ctx, d.bus, bus.TopicMessages, d.handleMessage) }()
	go func() { errCh <- bus.Run(ctx, d.bus, bus.TopicEdits, d.handleEdit) }()
	go func() { errCh <- bus.Run(ctx, d.bus, bus.TopicDeletes, d.handleDelete) }()

	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleMessage(_ context.Context, msg *wmessage.Message) error {
	var env model.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("decode message task: %w", err)
	}
	d.reg.PassMessage(env)
	return nil
}

func (d *Dispatcher) handleEdit(_ context.Context, msg *wmessage.Message) error {
	var task editTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		return fmt.Errorf("decode edit task: %w", err)
	}
	d.reg.EditMessage(task.Channel, task.UUID, task.Message)
	return nil
}

func (d *Dispatcher) handleDelete(_ context.Context, msg *wmessage.Message) error {
	var task deleteTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		return fmt.Errorf("decode delete task: %w", err)
	}
	d.reg.DeleteMessage(task.Channel, task.UUID)
	return nil
}
