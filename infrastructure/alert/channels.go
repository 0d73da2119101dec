package alert

import (
	"time"

	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
)

// LogChannel 写入结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.Nop()
	}
	return &LogChannel{log: log.Named("alert"), name: name}
}

func (c *LogChannel) Send(a Alert) error {
	l := c.log.WithFields(a.Fields)
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("rule", a.Rule),
		zap.Time("alertTime", a.Timestamp),
	}
	switch a.Level {
	case LevelInfo:
		l.Info(a.Message, fields...)
	case LevelWarning:
		l.Warn(a.Message, fields...)
	default:
		l.Error(a.Message, fields...)
	}
	return nil
}

func (c *LogChannel) Name() string { return c.name }

// Publisher 事件推送目标，stream.Hub 满足该接口。
type Publisher interface {
	Publish(kind string, data map[string]interface{}) error
}

// StreamChannel 以 risk_event 推送给 websocket 客户端
type StreamChannel struct {
	pub  Publisher
	name string
}

func NewStreamChannel(name string, pub Publisher) *StreamChannel {
	return &StreamChannel{pub: pub, name: name}
}

func (c *StreamChannel) Send(a Alert) error {
	data := make(map[string]interface{}, len(a.Fields)+4)
	for k, v := range a.Fields {
		data[k] = v
	}
	if _, ok := data["symbol"]; !ok {
		data["symbol"] = ""
	}
	if _, ok := data["reason"]; !ok {
		data["reason"] = a.Message
	}
	data["level"] = string(a.Level)
	data["rule"] = a.Rule
	data["message"] = a.Message
	data["ts"] = a.Timestamp.UTC().Format(time.RFC3339Nano)
	return c.pub.Publish("risk_event", data)
}

func (c *StreamChannel) Name() string { return c.name }
