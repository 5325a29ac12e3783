package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	msPerHour = 3600 * 1000
)

// Parse 严格解析YAML配置并进行校验
// 功能：未知字段报错，解析后执行Validate
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate 校验配置的一致性
// 说明：只检查控制参数与车辆参数，道路参数在构建道路时检查
func (c Config) Validate() error {
	if c.Control.Tick.SleepMs <= 0 {
		return errors.New("config: control.tick.sleep_ms must be positive")
	}
	if c.Control.Tick.FastForward <= 0 {
		return errors.New("config: control.tick.fast_forward must be positive")
	}
	if c.Control.Tick.Interval() <= 0 {
		return errors.New("config: control.tick.sleep_ms / fast_forward must be at least 1ns")
	}
	for i, v := range c.Vehicles {
		if v.TargetVelocity <= 0 {
			return fmt.Errorf("config: vehicles[%d].target_velocity must be positive", i)
		}
		if v.Length < 0 || v.StartDistance < 0 {
			return fmt.Errorf("config: vehicles[%d] length and start_distance must not be negative", i)
		}
	}
	if s := c.Spawn; s != nil {
		if s.Count < 0 {
			return errors.New("config: spawn.count must not be negative")
		}
		if s.IntervalMs <= 0 {
			return errors.New("config: spawn.interval_ms must be positive")
		}
		if s.TargetVelocity <= 0 || s.Length < 0 {
			return errors.New("config: spawn.target_velocity must be positive and spawn.length not negative")
		}
	}
	if c.Road == nil && c.Input.Road.IsEmpty() {
		return errors.New("config: either road or input.road must be specified")
	}
	return nil
}

// Interval 每次tick的真实时间间隔
func (t ControlTick) Interval() time.Duration {
	return time.Duration(t.SleepMs / t.FastForward * float64(time.Millisecond))
}

// Hours 每次tick推进的模拟时长（小时）
func (t ControlTick) Hours() float64 {
	return t.SleepMs / msPerHour
}
