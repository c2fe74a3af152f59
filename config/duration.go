package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 配置文件中的时长
//
// JSON 中写作 time.ParseDuration 能识别的字符串（如 "10s"），
// 也接受整数纳秒。输出总是字符串形式，例如握手超时：
//
//	{"multiplexing": {"handshake_timeout": "10s"}}
type Duration time.Duration

// ParseDuration 解析字符串形式的时长
func ParseDuration(s string) (Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	return Duration(d), nil
}

// UnmarshalJSON 先按字符串解析，失败再按纳秒整数解析
func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if json.Unmarshal(data, &text) == nil {
		parsed, err := ParseDuration(text)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}

	var nanos int64
	if json.Unmarshal(data, &nanos) == nil {
		*d = Duration(nanos)
		return nil
	}
	return fmt.Errorf("duration %s: want a string like \"10s\" or integer nanoseconds", data)
}

// MarshalJSON 输出字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration 转换为 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Or 在 d 为 0 时返回 def
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// String 实现 fmt.Stringer
func (d Duration) String() string {
	return time.Duration(d).String()
}
