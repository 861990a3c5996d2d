package divert

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/sofiworker/gdivert/gcodec"
	"github.com/sofiworker/gdivert/gconfig"
	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/checksum"
	"github.com/sofiworker/gdivert/gnet/packet"
)

const (
	SourcePcap = "pcap"
	SourceRaw  = "raw"
)

// Config 是命令行与配置文件共用的句柄配置。
type Config struct {
	Source         string         `json:"source" yaml:"source"`
	Input          string         `json:"input" yaml:"input"`
	Output         string         `json:"output" yaml:"output"`
	Interface      string         `json:"interface" yaml:"interface"`
	Layer          string         `json:"layer" yaml:"layer"`
	Priority       int16          `json:"priority" yaml:"priority"`
	Flags          string         `json:"flags" yaml:"flags"`
	Protocols      []string       `json:"protocols" yaml:"protocols"`
	RecvBufferSize int            `json:"recv_buffer_size" yaml:"recv_buffer_size"`
	QueueLen       uint64         `json:"queue_len" yaml:"queue_len"`
	QueueTime      uint64         `json:"queue_time" yaml:"queue_time"`
	Address        AddressConfig  `json:"address" yaml:"address"`
	Checksum       ChecksumConfig `json:"checksum" yaml:"checksum"`
	Log            LogConfig      `json:"log" yaml:"log"`
}

// AddressConfig 是离线来源附加在数据包上的元数据。
type AddressConfig struct {
	IfIdx     uint32 `json:"if_idx" yaml:"if_idx"`
	SubIfIdx  uint32 `json:"sub_if_idx" yaml:"sub_if_idx"`
	Direction string `json:"direction" yaml:"direction"`
}

type ChecksumConfig struct {
	Recalculate bool `json:"recalculate" yaml:"recalculate"`
	// Skip 列出不重算的协议：ip、icmp、icmpv6、tcp、udp。
	Skip []string `json:"skip" yaml:"skip"`
}

type LogConfig struct {
	Level    string   `json:"level" yaml:"level"`
	Encoding string   `json:"encoding" yaml:"encoding"`
	Stdout   bool     `json:"stdout" yaml:"stdout"`
	Files    []string `json:"files" yaml:"files"`
}

func DefaultConfig() *Config {
	return &Config{
		Source:         SourcePcap,
		Layer:          LayerNetwork.String(),
		Flags:          FlagDefault.String(),
		RecvBufferSize: DefaultRecvBufferSize,
		QueueLen:       ParamQueueLen.Default(),
		QueueTime:      ParamQueueTime.Default(),
		Address:        AddressConfig{Direction: packet.Outbound.String()},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
			Stdout:   true,
		},
	}
}

// defaults 以扁平键的形式登记默认值，环境变量覆盖依赖这些键。
func (c *Config) defaults() map[string]interface{} {
	return map[string]interface{}{
		"source":               c.Source,
		"input":                c.Input,
		"output":               c.Output,
		"interface":            c.Interface,
		"layer":                c.Layer,
		"priority":             c.Priority,
		"flags":                c.Flags,
		"protocols":            c.Protocols,
		"recv_buffer_size":     c.RecvBufferSize,
		"queue_len":            c.QueueLen,
		"queue_time":           c.QueueTime,
		"address.if_idx":       c.Address.IfIdx,
		"address.sub_if_idx":   c.Address.SubIfIdx,
		"address.direction":    c.Address.Direction,
		"checksum.recalculate": c.Checksum.Recalculate,
		"checksum.skip":        c.Checksum.Skip,
		"log.level":            c.Log.Level,
		"log.encoding":         c.Log.Encoding,
		"log.stdout":           c.Log.Stdout,
		"log.files":            c.Log.Files,
	}
}

// NewLoader 创建带默认值的配置加载器。path 为空时只使用默认值与 GDIVERT_ 环境变量。
func NewLoader(path string, opts ...gconfig.Option) (*gconfig.Config, error) {
	base := []gconfig.Option{
		gconfig.WithEnvPrefix("GDIVERT"),
		gconfig.WithDecoderOptions(
			gconfig.WithWeaklyTypedInput(true),
			gconfig.WithDecodeHooks(mapstructure.StringToSliceHookFunc(",")),
		),
	}
	if path != "" {
		base = append(base, gconfig.WithFile(path))
	} else {
		base = append(base, gconfig.WithName("gdivert"))
	}
	loader, err := gconfig.New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	for k, v := range DefaultConfig().defaults() {
		loader.SetDefault(k, v)
	}
	return loader, nil
}

// Decode 从加载器解出并校验配置。
func Decode(loader gconfig.Unmarshaler) (*Config, error) {
	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, gerr.MalformedInput("divert.Decode", "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig 读取 path（可为空）与环境变量得到配置。
func LoadConfig(path string) (*Config, error) {
	loader, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return Decode(loader)
}

func (c *Config) Validate() error {
	const op = "divert.Config.Validate"
	switch c.Source {
	case SourcePcap:
		if c.Input == "" {
			return gerr.InvalidState(op, "pcap source requires an input path")
		}
	case SourceRaw:
	default:
		return gerr.MalformedInput(op, "unknown source %q", c.Source)
	}
	opts, err := c.HandleOptions()
	if err != nil {
		return err
	}
	if _, err := newOptions(opts); err != nil {
		return err
	}
	if err := ParamQueueLen.Check(c.QueueLen); err != nil {
		return err
	}
	if err := ParamQueueTime.Check(c.QueueTime); err != nil {
		return err
	}
	if _, err := c.ChecksumOptions(); err != nil {
		return err
	}
	_, err = c.LogOptions()
	return err
}

// HandleOptions 把配置转换为句柄选项。
func (c *Config) HandleOptions() ([]Option, error) {
	layer, err := ParseLayer(c.Layer)
	if err != nil {
		return nil, err
	}
	flags, err := ParseFlags(c.Flags)
	if err != nil {
		return nil, err
	}
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	protos, err := ParseProtocols(c.Protocols)
	if err != nil {
		return nil, err
	}
	filter, err := FilterProtocols(protos...)
	if err != nil {
		return nil, err
	}
	dir, err := parseDirectionName(c.Address.Direction)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithLayer(layer),
		WithPriority(c.Priority),
		WithFlags(flags),
		WithFilter(filter),
		WithRecvBufferSize(c.RecvBufferSize),
		WithInterface(c.Interface),
		WithAddress(packet.Address{IfIdx: c.Address.IfIdx, SubIfIdx: c.Address.SubIfIdx, Direction: dir}),
	}, nil
}

func parseDirectionName(s string) (packet.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OUTBOUND", "0":
		return packet.Outbound, nil
	case "INBOUND", "1":
		return packet.Inbound, nil
	}
	return 0, gerr.MalformedInput("divert.Config", "unknown direction %q", s)
}

// NewHandle 按 Source 创建句柄，extra 追加在配置生成的选项之后。
func (c *Config) NewHandle(extra ...Option) (Handle, error) {
	opts, err := c.HandleOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)
	switch c.Source {
	case SourcePcap:
		return NewPcapFileHandle(c.Input, c.Output, opts...)
	case SourceRaw:
		return NewRawHandle(opts...)
	}
	return nil, gerr.MalformedInput("divert.Config.NewHandle", "unknown source %q", c.Source)
}

// ApplyParams 把队列参数写入已打开的句柄。
func (c *Config) ApplyParams(h Handle) error {
	if err := h.SetParam(ParamQueueLen, c.QueueLen); err != nil {
		return err
	}
	return h.SetParam(ParamQueueTime, c.QueueTime)
}

var checksumSkipNames = map[string]packet.ChecksumOption{
	"ip":     packet.NoIPChecksum,
	"icmp":   packet.NoICMPChecksum,
	"icmpv6": packet.NoICMPv6Checksum,
	"tcp":    packet.NoTCPChecksum,
	"udp":    packet.NoUDPChecksum,
}

func (c *Config) ChecksumOptions() (packet.ChecksumOption, error) {
	var out packet.ChecksumOption
	for _, name := range c.Checksum.Skip {
		opt, ok := checksumSkipNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, gerr.MalformedInput("divert.Config.ChecksumOptions", "unknown checksum option %q", name)
		}
		out |= opt
	}
	return out, nil
}

// RunOptions 在开启重算时挂上基于 gopacket 的校验和实现。
func (c *Config) RunOptions() ([]RunOption, error) {
	if !c.Checksum.Recalculate {
		return nil, nil
	}
	opts, err := c.ChecksumOptions()
	if err != nil {
		return nil, err
	}
	return []RunOption{WithChecksums(checksum.New(), opts)}, nil
}

func (c *Config) LogOptions() ([]glog.Option, error) {
	level, err := glog.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, gerr.MalformedInput("divert.Config.LogOptions", "%v", err)
	}
	enc, err := glog.ParseEncoding(c.Log.Encoding)
	if err != nil {
		return nil, gerr.MalformedInput("divert.Config.LogOptions", "%v", err)
	}
	return []glog.Option{
		glog.WithLevel(level),
		glog.WithEncoding(enc),
		glog.WithStdout(c.Log.Stdout),
		glog.WithOutputPaths(c.Log.Files...),
	}, nil
}

// Encode 用给定的编码器输出生效的配置。
func (c *Config) Encode(enc gcodec.BytesEncoder) ([]byte, error) {
	return enc.EncodeBytes(c)
}

func (c *Config) YAML() ([]byte, error) {
	return c.Encode(gcodec.NewYAMLCodec())
}

func (c *Config) JSON() ([]byte, error) {
	return c.Encode(gcodec.NewIndentedJSONCodec("  "))
}
