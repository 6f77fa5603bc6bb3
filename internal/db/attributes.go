package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Attributes 保存各板块特有的字段（如图鉴怪物的属性、稀有度），以 JSON 文本落库。
type Attributes map[string]any

// GormDataType 指定列类型。
func (Attributes) GormDataType() string {
	return "text"
}

// Value 实现 driver.Valuer。
func (a Attributes) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan 实现 sql.Scanner。
func (a *Attributes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported attributes type %T", src)
	}

	if len(raw) == 0 {
		*a = nil
		return nil
	}
	out := Attributes{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*a = out
	return nil
}
