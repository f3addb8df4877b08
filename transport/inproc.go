// File: transport/inproc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// inprocRegistry maps bound inproc names to their sockets process-wide.
var inprocRegistry = cmap.New[*Socket]()

func (s *Socket) bindInproc(name string) error {
	if name == "*" {
		name = uuid.NewString()
	}
	if !inprocRegistry.SetIfAbsent(name, s) {
		return api.NewError(api.ErrCodeAlreadyExists, "inproc endpoint already bound").WithContext("name", name)
	}
	s.mu.Lock()
	s.names = append(s.names, name)
	s.lastEndpoint = "inproc://" + name
	s.mu.Unlock()
	s.log.Debug("bound", zap.String("endpoint", "inproc://"+name))
	return nil
}

func (s *Socket) unbindInproc() {
	s.mu.Lock()
	names := s.names
	s.names = nil
	s.mu.Unlock()
	for _, name := range names {
		inprocRegistry.RemoveCb(name, func(_ string, v *Socket, exists bool) bool {
			return exists && v == s
		})
	}
}

// connectInproc wires a pipe pair between s and the socket bound to name.
// Each direction holds the sender's send HWM plus the receiver's receive HWM.
func (s *Socket) connectInproc(name string) error {
	remote, ok := inprocRegistry.Get(name)
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "no socket bound to inproc endpoint").WithContext("name", name)
	}
	if remote == s {
		return api.NewError(api.ErrCodeInvalidEndpoint, "socket cannot connect to itself").WithContext("name", name)
	}
	toRemote := newPipe(s.opts.sendHWM+remote.opts.recvHWM, remote.sig, s.sig)
	toLocal := newPipe(remote.opts.sendHWM+s.opts.recvHWM, s.sig, remote.sig)

	endpoint := "inproc://" + name
	local := &peer{name: endpoint, in: toLocal, out: toRemote}
	far := &peer{name: endpoint, in: toRemote, out: toLocal}
	local.release = func(time.Duration) {
		far.gone.Store(true)
		remote.sig.notify()
	}
	far.release = func(time.Duration) {
		local.gone.Store(true)
		s.sig.notify()
	}

	if err := remote.attach(far); err != nil {
		return api.NewError(api.ErrCodeNotFound, "inproc endpoint is closing").WithContext("name", name)
	}
	if err := s.attach(local); err != nil {
		far.gone.Store(true)
		remote.sig.notify()
		return err
	}
	return nil
}
