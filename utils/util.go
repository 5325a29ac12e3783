package utils

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// 找出ID(int32)对应的数据。
// 如果ids为空则返回所有数据，
// 如果不存在则将失败ID记录到失败列表中。
func Find[T any](dataMap map[int32]T, data []T, ids []int32) (okData []T, failedIDs []int32) {
	if len(ids) == 0 {
		return data, nil
	}
	okData = make([]T, 0, len(ids))
	failedIDs = make([]int32, 0, len(ids))
	for _, id := range ids {
		if d, ok := dataMap[id]; ok {
			okData = append(okData, d)
		} else {
			failedIDs = append(failedIDs, id)
		}
	}
	return
}

// GetNumber 读取Struct中的数值字段
// 返回：字段值、字段是否存在；字段存在但不是数值时返回错误
func GetNumber(s *structpb.Struct, key string) (float64, bool, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, true, fmt.Errorf("field %s must be a number", key)
	}
	return n.NumberValue, true, nil
}

// GetNumberOr 读取Struct中的数值字段，不存在时返回默认值
func GetNumberOr(s *structpb.Struct, key string, def float64) (float64, error) {
	v, ok, err := GetNumber(s, key)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// GetInt32 读取Struct中的整数字段
// 返回：字段值、字段是否存在；字段不是int32范围内的整数时返回错误
func GetInt32(s *structpb.Struct, key string) (int32, bool, error) {
	v, ok, err := GetNumber(s, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := toInt32(v)
	if err != nil {
		return 0, true, fmt.Errorf("field %s: %w", key, err)
	}
	return n, true, nil
}

func toInt32(v float64) (int32, error) {
	if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%v is not an int32", v)
	}
	return int32(v), nil
}

// GetIDs 读取Struct中的ID列表字段，不存在时返回nil
func GetIDs(s *structpb.Struct, key string) ([]int32, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %s must be a list", key)
	}
	ids := make([]int32, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %s must be a list of numbers", key)
		}
		id, err := toInt32(n.NumberValue)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok
}
