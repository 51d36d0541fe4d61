package configreg

import "strings"

// Defaults 描述“模板自带、绝不能入库”的默认/占位值。
// 它是显式注入的结构而不是包级全局，测试可以替换成自己的夹具。
type Defaults struct {
	// Known 为键 -> 模板默认值 的精确对照表。
	Known map[string]string
	// MarkerPrefixes 为占位标记前缀（不区分大小写）。
	MarkerPrefixes []string
	// PlaceholderValues 为与键无关的典型占位值（不区分大小写）。
	PlaceholderValues []string
}

// DefaultTable 返回随发行模板出厂的对照表。
func DefaultTable() Defaults {
	return Defaults{
		Known: map[string]string{
			"POSTGRES_ROOT_PASSWORD": "changeme",
			"PANEL_DB_USER":          "aegis",
			"PANEL_DB_PASSWORD":      "aegis_db_pass",
			"PANEL_DOMAIN":           "panel.example.com",
			"PANEL_ADMIN_TOKEN":      "your_admin_token",
			"JWT_SECRET":             "change_this_jwt_secret",
			"XRAY_API_PORT":          "10085",
		},
		MarkerPrefixes: []string{
			"your_",
			"change_me",
			"changeme",
			"change_this",
			"replace_",
			"placeholder",
			"dummy",
			"<",
			"xxx",
		},
		PlaceholderValues: []string{
			"example.com",
			"www.example.com",
			"sub.example.com",
			"user@example.com",
			"localhost",
			"127.0.0.1",
			"0.0.0.0",
			"password",
			"secret",
			"admin",
		},
	}
}

// IsDefault 判断 (key, value) 是否为模板默认/占位值。
// 空值不在这里处理：空值属于校验拒绝，不属于默认值。
func (d Defaults) IsDefault(key, value string) bool {
	if value == "" {
		return false
	}

	if want, ok := d.Known[strings.ToUpper(strings.TrimSpace(key))]; ok && want == value {
		return true
	}

	lower := strings.ToLower(value)
	for _, prefix := range d.MarkerPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	for _, placeholder := range d.PlaceholderValues {
		if lower == strings.ToLower(placeholder) {
			return true
		}
	}
	return false
}
