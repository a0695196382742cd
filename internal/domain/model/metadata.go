package model

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// MetaKind 元数据值类型
type MetaKind uint8

const (
	MetaNumber MetaKind = iota + 1
	MetaString
	MetaBool
	MetaList
	MetaMap
)

func (k MetaKind) String() string {
	switch k {
	case MetaNumber:
		return "number"
	case MetaString:
		return "string"
	case MetaBool:
		return "bool"
	case MetaList:
		return "list"
	case MetaMap:
		return "map"
	}
	return "invalid"
}

// MetaValue 元数据取值：number / string / bool / list / map 之一
type MetaValue struct {
	kind MetaKind
	num  float64
	str  string
	b    bool
	list []MetaValue
	m    map[string]MetaValue
}

func Number(f float64) MetaValue           { return MetaValue{kind: MetaNumber, num: f} }
func String(s string) MetaValue            { return MetaValue{kind: MetaString, str: s} }
func Bool(b bool) MetaValue                { return MetaValue{kind: MetaBool, b: b} }
func List(vs ...MetaValue) MetaValue       { return MetaValue{kind: MetaList, list: vs} }
func Map(m map[string]MetaValue) MetaValue { return MetaValue{kind: MetaMap, m: m} }

func (v MetaValue) Kind() MetaKind { return v.kind }

// AsNumber 返回数值，类型不符时 ok=false
func (v MetaValue) AsNumber() (float64, bool) { return v.num, v.kind == MetaNumber }

func (v MetaValue) AsString() (string, bool) { return v.str, v.kind == MetaString }

func (v MetaValue) AsBool() (bool, bool) { return v.b, v.kind == MetaBool }

func (v MetaValue) AsList() ([]MetaValue, bool) { return v.list, v.kind == MetaList }

func (v MetaValue) AsMap() (map[string]MetaValue, bool) { return v.m, v.kind == MetaMap }

// Validate 递归校验，零值 MetaValue 无效
func (v MetaValue) Validate() error {
	switch v.kind {
	case MetaNumber, MetaString, MetaBool:
		return nil
	case MetaList:
		for i, item := range v.list {
			if err := item.Validate(); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case MetaMap:
		for k, item := range v.m {
			if err := item.Validate(); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	}
	return ErrInvalidMetadata
}

func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case MetaNumber:
		return json.Marshal(v.num)
	case MetaString:
		return json.Marshal(v.str)
	case MetaBool:
		return json.Marshal(v.b)
	case MetaList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case MetaMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return nil, ErrInvalidMetadata
}

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromRaw(raw interface{}) (MetaValue, error) {
	switch t := raw.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return MetaValue{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		return Number(f), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case []interface{}:
		list := make([]MetaValue, 0, len(t))
		for _, item := range t {
			mv, err := fromRaw(item)
			if err != nil {
				return MetaValue{}, err
			}
			list = append(list, mv)
		}
		return List(list...), nil
	case map[string]interface{}:
		m := make(map[string]MetaValue, len(t))
		for k, item := range t {
			mv, err := fromRaw(item)
			if err != nil {
				return MetaValue{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = mv
		}
		return Map(m), nil
	case nil:
		return MetaValue{}, fmt.Errorf("%w: null", ErrInvalidMetadata)
	}
	return MetaValue{}, fmt.Errorf("%w: %T", ErrInvalidMetadata, raw)
}

// Metadata 持仓附加属性
type Metadata map[string]MetaValue

// Validate 校验所有值
func (m Metadata) Validate() error {
	for _, k := range m.Keys() {
		if err := m[k].Validate(); err != nil {
			return fmt.Errorf("metadata %s: %w", k, err)
		}
	}
	return nil
}

// Keys 排序后的键
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value 实现 driver.Valuer，写库前校验
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(map[string]MetaValue(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch t := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidMetadata, src)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		*m = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := make(Metadata, len(raw))
	for k, item := range raw {
		v, err := fromRaw(item)
		if err != nil {
			return fmt.Errorf("metadata %s: %w", k, err)
		}
		out[k] = v
	}
	*m = out
	return nil
}
