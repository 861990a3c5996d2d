package divert

import (
	"context"
	"sync"

	"golang.org/x/net/bpf"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/packet"
)

// Handle 是抓包/注入边界。Recv 取出下一个匹配的数据包，Send 把数据包重新注入，
// 返回写入的字节数。未打开时 Recv/Send/Param/SetParam 返回 InvalidState。
type Handle interface {
	Open(ctx context.Context) error
	IsOpen() bool
	Recv(ctx context.Context) (*packet.Packet, error)
	Send(ctx context.Context, p *packet.Packet) (int, error)
	Param(p Param) (uint64, error)
	SetParam(p Param, v uint64) error
	Options() Options
	Close() error
}

// Options 是打开句柄时固定下来的参数。
//
// Priority 和 FlagNoChecksum 只做校验并原样保存，pcap 与原始套接字句柄都只有一个
// 分流者，也从不校验收到的校验和，保留它们是为了与同类 API 的配置兼容。
// 参数 QUEUE_TIME 同理：RawHandle 只把 QUEUE_LEN 应用到套接字。
type Options struct {
	Layer          Layer
	Priority       int16
	Flags          Flag
	Filter         []bpf.Instruction
	RecvBufferSize int
	Interface      string
	// Address 是离线来源读出的数据包所带的元数据，pcapng 输入中 IfIdx 与 Direction 取自 EPB。
	Address packet.Address
	Logger  glog.GLogger
}

type Option func(*Options)

func WithLayer(l Layer) Option {
	return func(o *Options) { o.Layer = l }
}

func WithPriority(p int16) Option {
	return func(o *Options) { o.Priority = p }
}

func WithFlags(flags ...Flag) Option {
	return func(o *Options) {
		for _, f := range flags {
			o.Flags |= f
		}
	}
}

// WithFilter 设置作用在原始 IP 字节上的经典 BPF 程序，nil 表示匹配全部。
func WithFilter(prog []bpf.Instruction) Option {
	return func(o *Options) { o.Filter = prog }
}

// WithRecvBufferSize 设置 Recv 的缓冲区大小，超过该大小的数据包返回 OutOfRange。
func WithRecvBufferSize(n int) Option {
	return func(o *Options) { o.RecvBufferSize = n }
}

func WithInterface(name string) Option {
	return func(o *Options) { o.Interface = name }
}

func WithAddress(addr packet.Address) Option {
	return func(o *Options) { o.Address = addr }
}

func WithLogger(l glog.GLogger) Option {
	return func(o *Options) { o.Logger = l }
}

func newOptions(opts []Option) (Options, error) {
	o := Options{RecvBufferSize: DefaultRecvBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = glog.Named("divert")
	}
	if o.RecvBufferSize <= 0 {
		o.RecvBufferSize = DefaultRecvBufferSize
	}
	if err := o.Flags.Validate(); err != nil {
		return o, err
	}
	if o.Layer != LayerNetwork && o.Layer != LayerNetworkForward {
		return o, gerr.InvalidState("divert.Options", "unknown layer %d", o.Layer)
	}
	if o.Priority < MinPriority || o.Priority > MaxPriority {
		return o, gerr.OutOfRange("divert.Options", "priority %d must be in range %d, %d", o.Priority, MinPriority, MaxPriority)
	}
	if o.Filter != nil {
		if _, err := bpf.NewVM(o.Filter); err != nil {
			return o, gerr.InvalidState("divert.Options", "invalid filter: %v", err)
		}
	}
	return o, nil
}

// state 是各个句柄共享的打开状态与参数表。
type state struct {
	mu     sync.Mutex
	open   bool
	params map[Param]uint64
	opts   Options
}

func (s *state) init(opts Options) {
	s.params = defaultParams()
	s.opts = opts
}

func (s *state) markOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return gerr.InvalidState(op, "handle is already open")
	}
	s.open = true
	return nil
}

// markClosed 返回句柄此前是否处于打开状态。
func (s *state) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.open
	s.open = false
	return was
}

func (s *state) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *state) requireOpen(op string) error {
	if !s.IsOpen() {
		return gerr.InvalidState(op, "handle is not open")
	}
	return nil
}

func (s *state) Options() Options {
	return s.opts
}

func (s *state) Param(p Param) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, gerr.InvalidState("divert.Param", "handle is not open")
	}
	v, ok := s.params[p]
	if !ok {
		return 0, gerr.InvalidState("divert.Param", "unknown param %d", uint8(p))
	}
	return v, nil
}

func (s *state) SetParam(p Param, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return gerr.InvalidState("divert.SetParam", "handle is not open")
	}
	if err := p.Check(v); err != nil {
		return err
	}
	s.params[p] = v
	return nil
}

// SendRecalculated 先用 helper 重算校验和再注入，对应带校验和选项的发送。
func SendRecalculated(ctx context.Context, h Handle, p *packet.Packet, helper packet.ChecksumHelper, opts ...packet.ChecksumOption) (int, error) {
	if !h.IsOpen() {
		return 0, gerr.InvalidState("divert.SendRecalculated", "handle is not open")
	}
	if err := p.RecalculateChecksums(helper, opts...); err != nil {
		return 0, err
	}
	return h.Send(ctx, p)
}
