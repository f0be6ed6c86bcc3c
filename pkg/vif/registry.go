package vif

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wait"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// DefaultReadyTimeout bounds the wait for InterfaceReady after create.
const DefaultReadyTimeout = time.Second

// Registry errors.
var (
	// ErrStaleHandle indicates the handle's interface was removed.
	ErrStaleHandle = errors.New("stale interface handle")
)

// Submitter sends a command and waits for its reply.
// Implemented by *command.Channel.
type Submitter interface {
	Submit(ctx context.Context, req command.Request) (command.Response, error)
}

// Handle is a weak reference to an interface.
type Handle struct {
	Index uint8
	Gen   uint32
}

// String returns "if<index>/<gen>".
func (h Handle) String() string {
	return fmt.Sprintf("if%d/%d", h.Index, h.Gen)
}

// Interface is the registry record for one virtual interface.
type Interface struct {
	Handle         Handle
	Role           Role
	MAC            wire.MACAddr
	ListenInterval uint16
	BmissTime      uint16

	rocCookie    uint64
	actionCookie uint64
}

type slot struct {
	gen   uint32
	iface *Interface
	ready bool
}

// Config configures a Registry.
type Config struct {
	ReadyTimeout time.Duration

	// Abort is evaluated when Add starts and while it waits for
	// InterfaceReady. A non-nil error ends Add with that error.
	Abort func() error

	Logger *slog.Logger
	Tracer *log.Tracer
}

// Registry is the arena of virtual interfaces.
type Registry struct {
	sub    Submitter
	config Config
	logger *slog.Logger
	ready  wait.Signal

	mu        sync.RWMutex
	slots     []slot
	maxNormal uint8
	caps      wire.Capabilities
	baseMAC   wire.MACAddr
	gen       uint32
}

// New creates an empty Registry. Configure sizes it once firmware reports
// its limits.
func New(sub Submitter, config Config) *Registry {
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = DefaultReadyTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sub:    sub,
		config: config,
		logger: logger.With("component", "vif"),
	}
}

// Configure sizes the arena from the firmware ready report and drops any
// previous records.
func (r *Registry) Configure(info wire.ReadyInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := info.MaxInterfaces
	if n == 0 {
		n = 1
	}
	r.slots = make([]slot, n)
	r.maxNormal = info.Capabilities.MaxNormalIfaces
	if r.maxNormal == 0 || r.maxNormal > n {
		r.maxNormal = n
	}
	r.caps = info.Capabilities
	r.baseMAC = info.MAC
}

// DeriveMAC returns the address of interface idx derived from the device
// address: index 0 uses base unchanged, others flip bit idx of the first
// octet and set the locally administered bit.
func DeriveMAC(base wire.MACAddr, idx uint8) wire.MACAddr {
	if idx == 0 {
		return base
	}
	mac := base
	mac[0] = (mac[0] ^ (1 << idx)) | 0x02
	return mac
}

// AddDefault registers interface 0, which firmware brings up with Ready.
func (r *Registry) AddDefault(role Role) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.slots) == 0 {
		return Handle{}, fwerr.New("add interface", fwerr.ErrNotReady)
	}
	if r.slots[0].iface != nil {
		return Handle{}, fwerr.New("add interface", fwerr.ErrBusy)
	}
	h := r.install(0, role)
	r.slots[0].ready = true
	r.config.Tracer.StateChange(log.StateEntityInterface, log.IfIndex(0), "", role.String(), "default")
	return h, nil
}

// install fills slot idx. Caller holds the write lock.
func (r *Registry) install(idx uint8, role Role) Handle {
	r.gen++
	h := Handle{Index: idx, Gen: r.gen}
	r.slots[idx] = slot{
		gen: h.Gen,
		iface: &Interface{
			Handle: h,
			Role:   role,
			MAC:    DeriveMAC(r.baseMAC, idx),
		},
	}
	return h
}

// pick returns a free index for role. Caller holds the lock.
func (r *Registry) pick(role Role) (uint8, error) {
	count := 0
	adhoc := false
	for _, s := range r.slots {
		if s.iface != nil {
			count++
			if s.iface.Role == RoleAdHoc {
				adhoc = true
			}
		}
	}
	if r.caps.AdHocExclusive {
		if adhoc {
			return 0, fmt.Errorf("ad-hoc interface active: %w", fwerr.ErrInvalidParameter)
		}
		if role == RoleAdHoc && count > 0 {
			return 0, fmt.Errorf("ad-hoc requires no other interfaces: %w", fwerr.ErrInvalidParameter)
		}
	}

	start, end := 0, int(r.maxNormal)
	if role.IsP2P() {
		if !r.caps.P2P {
			return 0, fmt.Errorf("p2p not supported: %w", fwerr.ErrInvalidParameter)
		}
		start, end = int(r.maxNormal), len(r.slots)
	}
	for i := start; i < end; i++ {
		if r.slots[i].iface == nil {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("no free interface slot: %w", fwerr.ErrBusy)
}

// Add creates an interface in firmware and waits for it to come up. On any
// failure the slot is released.
func (r *Registry) Add(ctx context.Context, role Role) (Handle, error) {
	if r.config.Abort != nil {
		if err := r.config.Abort(); err != nil {
			return Handle{}, err
		}
	}
	r.mu.Lock()
	if len(r.slots) == 0 {
		r.mu.Unlock()
		return Handle{}, fwerr.New("add interface", fwerr.ErrNotReady)
	}
	idx, err := r.pick(role)
	if err != nil {
		r.mu.Unlock()
		return Handle{}, err
	}
	h := r.install(idx, role)
	mac := r.slots[idx].iface.MAC
	r.mu.Unlock()

	if idx == 0 {
		r.mu.Lock()
		r.slots[0].ready = true
		r.mu.Unlock()
		return h, nil
	}

	_, err = r.sub.Submit(ctx, command.Request{
		Opcode:    wire.OpCreateInterface,
		Interface: idx,
		Payload: wire.CreateInterfaceParams{
			Index:       idx,
			NetworkType: role.NetworkType(),
			P2P:         role.IsP2P(),
			MAC:         mac,
		},
	})
	if err == nil {
		err = r.ready.Await(ctx, r.config.ReadyTimeout, r.abortFor(h), func() bool {
			r.mu.RLock()
			defer r.mu.RUnlock()
			s := r.slots[idx]
			return s.gen == h.Gen && s.ready
		})
	}
	if err != nil {
		r.rollback(h)
		r.logger.Warn("interface create failed", "iface", idx, "role", role, "error", err)
		return Handle{}, fmt.Errorf("add %s interface: %w", role, err)
	}

	r.logger.Info("interface added", "iface", idx, "role", role, "mac", mac)
	r.config.Tracer.StateChange(log.StateEntityInterface, log.IfIndex(idx), "", role.String(), "created")
	return h, nil
}

func (r *Registry) abortFor(h Handle) func() error {
	return func() error {
		if r.config.Abort != nil {
			if err := r.config.Abort(); err != nil {
				return err
			}
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		if int(h.Index) >= len(r.slots) || r.slots[h.Index].gen != h.Gen {
			return ErrStaleHandle
		}
		return nil
	}
}

func (r *Registry) rollback(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(h.Index) < len(r.slots) && r.slots[h.Index].gen == h.Gen {
		r.slots[h.Index] = slot{}
	}
}

// HandleInterfaceReady marks the created interface as up.
func (r *Registry) HandleInterfaceReady(info wire.InterfaceReadyInfo) {
	r.mu.Lock()
	matched := false
	if int(info.Index) < len(r.slots) {
		s := &r.slots[info.Index]
		if s.iface != nil && !s.ready {
			s.ready = true
			if !info.MAC.IsZero() {
				s.iface.MAC = info.MAC
			}
			matched = true
		}
	}
	r.mu.Unlock()

	if !matched {
		r.logger.Warn("interface ready for unknown slot", "iface", info.Index)
		return
	}
	r.ready.Notify()
}

// Recreate re-issues CreateInterface for every live interface above index 0
// after a firmware reload. Handles stay valid. An interface that fails to
// come back is dropped and the first failure is returned.
func (r *Registry) Recreate(ctx context.Context) error {
	type pending struct {
		h    Handle
		role Role
		mac  wire.MACAddr
	}
	r.mu.Lock()
	var todo []pending
	for i := 1; i < len(r.slots); i++ {
		s := &r.slots[i]
		if s.iface == nil {
			continue
		}
		s.ready = false
		todo = append(todo, pending{h: s.iface.Handle, role: s.iface.Role, mac: s.iface.MAC})
	}
	r.mu.Unlock()

	var first error
	for _, p := range todo {
		idx := p.h.Index
		_, err := r.sub.Submit(ctx, command.Request{
			Opcode:    wire.OpCreateInterface,
			Interface: idx,
			Payload: wire.CreateInterfaceParams{
				Index:       idx,
				NetworkType: p.role.NetworkType(),
				P2P:         p.role.IsP2P(),
				MAC:         p.mac,
			},
		})
		if err == nil {
			err = r.ready.Await(ctx, r.config.ReadyTimeout, r.abortFor(p.h), func() bool {
				r.mu.RLock()
				defer r.mu.RUnlock()
				s := r.slots[idx]
				return s.gen == p.h.Gen && s.ready
			})
		}
		if err != nil {
			r.rollback(p.h)
			r.logger.Warn("interface recreate failed", "iface", idx, "role", p.role, "error", err)
			r.config.Tracer.StateChange(log.StateEntityInterface, log.IfIndex(idx), p.role.String(), "", "recreate failed")
			if first == nil {
				first = fmt.Errorf("recreate %s: %w", p.h, err)
			}
			continue
		}
		r.logger.Debug("interface recreated", "iface", idx, "role", p.role)
	}
	return first
}

// Remove unlinks the interface and deletes it in firmware. The record is
// gone even if the delete command fails.
func (r *Registry) Remove(ctx context.Context, h Handle) error {
	r.mu.Lock()
	if !r.validLocked(h) {
		r.mu.Unlock()
		return fmt.Errorf("remove %s: %w", h, fwerr.ErrInvalidParameter)
	}
	role := r.slots[h.Index].iface.Role
	r.slots[h.Index] = slot{}
	r.mu.Unlock()

	r.config.Tracer.StateChange(log.StateEntityInterface, log.IfIndex(h.Index), role.String(), "", "removed")
	if h.Index == 0 {
		return nil
	}
	_, err := r.sub.Submit(ctx, command.Request{
		Opcode:    wire.OpDeleteInterface,
		Interface: h.Index,
		Urgency:   command.UrgencyFailFast,
	})
	if err != nil {
		r.logger.Warn("interface delete failed", "iface", h.Index, "error", err)
		return fmt.Errorf("remove %s: %w", h, err)
	}
	r.logger.Info("interface removed", "iface", h.Index)
	return nil
}

func (r *Registry) validLocked(h Handle) bool {
	if int(h.Index) >= len(r.slots) {
		return false
	}
	s := r.slots[h.Index]
	return s.iface != nil && s.ready && s.gen == h.Gen
}

// Valid reports whether h refers to a live interface.
func (r *Registry) Valid(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validLocked(h)
}

// Get returns a copy of the interface record.
func (r *Registry) Get(h Handle) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.validLocked(h) {
		return Interface{}, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	return *r.slots[h.Index].iface, nil
}

// Lookup returns the handle of the live interface at index.
func (r *Registry) Lookup(index uint8) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(index) >= len(r.slots) {
		return Handle{}, false
	}
	s := r.slots[index]
	if s.iface == nil || !s.ready {
		return Handle{}, false
	}
	return s.iface.Handle, true
}

// Update applies fn to the live record of h under the write lock.
func (r *Registry) Update(h Handle, fn func(*Interface)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.validLocked(h) {
		return fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	fn(r.slots[h.Index].iface)
	return nil
}

// NextRemainOnChannelCookie returns the next non-zero cookie for h.
func (r *Registry) NextRemainOnChannelCookie(h Handle) (uint64, error) {
	var cookie uint64
	err := r.Update(h, func(i *Interface) {
		i.rocCookie++
		if i.rocCookie == 0 {
			i.rocCookie = 1
		}
		cookie = i.rocCookie
	})
	return cookie, err
}

// NextActionCookie returns the next non-zero action frame cookie for h.
func (r *Registry) NextActionCookie(h Handle) (uint64, error) {
	var cookie uint64
	err := r.Update(h, func(i *Interface) {
		i.actionCookie++
		if i.actionCookie == 0 {
			i.actionCookie = 1
		}
		cookie = i.actionCookie
	})
	return cookie, err
}

// Snapshot returns the handles of every live interface in index order.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handle
	for _, s := range r.slots {
		if s.iface != nil && s.ready {
			out = append(out, s.iface.Handle)
		}
	}
	return out
}

// Interfaces returns copies of every live record in index order.
func (r *Registry) Interfaces() []Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Interface
	for _, s := range r.slots {
		if s.iface != nil && s.ready {
			out = append(out, *s.iface)
		}
	}
	return out
}

// Len returns the number of live interfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.slots {
		if s.iface != nil && s.ready {
			n++
		}
	}
	return n
}

// Capacity returns the arena size.
func (r *Registry) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Reset drops every record. Outstanding handles become stale.
func (r *Registry) Reset() {
	r.mu.Lock()
	for i := range r.slots {
		r.slots[i] = slot{}
	}
	r.mu.Unlock()
	r.ready.Notify()
}
