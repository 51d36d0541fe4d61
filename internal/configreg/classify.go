package configreg

import "strings"

// KeyKind 是对键名的一次性分类结果；所有按键名分支的逻辑都 switch 这个枚举，
// 不在调用点散落后缀匹配。
type KeyKind int

const (
	// KindUnknown 无法分类，值被乐观接受且不做校验。
	KindUnknown KeyKind = iota
	// KindRootCredential 数据库管理员口令，可做在线验证。
	KindRootCredential
	// KindPairedCredential 成对出现的用户名/口令，只有凑齐另一半才能在线验证。
	KindPairedCredential
	// KindNumericIdentity 数字身份（端口、ID 等），按无符号整数模式校验。
	KindNumericIdentity
	// KindGenericSecret 普通机密，只能做长度下限校验。
	KindGenericSecret
)

func (k KeyKind) String() string {
	switch k {
	case KindRootCredential:
		return "root_credential"
	case KindPairedCredential:
		return "paired_credential"
	case KindNumericIdentity:
		return "numeric_identity"
	case KindGenericSecret:
		return "generic_secret"
	default:
		return "unknown"
	}
}

var (
	pairedSuffixes  = []string{"_DB_USERNAME", "_DB_USER", "_DB_PASSWORD"}
	numericSuffixes = []string{"_PORT", "_UID", "_ID"}
	secretSuffixes  = []string{"_SECRET", "_PASSWORD", "_TOKEN", "_BEARER", "_API_KEY", "_KEY"}
)

// ClassifyKey 把键名映射到 KeyKind。匹配顺序有意从最具体到最宽泛：
// ROOT_PASSWORD 和 DB_PASSWORD 也以 _PASSWORD 结尾，必须先于 GenericSecret 命中。
func ClassifyKey(key string) KeyKind {
	k := strings.ToUpper(strings.TrimSpace(key))
	if k == "" {
		return KindUnknown
	}

	if strings.HasSuffix(k, "_ROOT_PASSWORD") {
		return KindRootCredential
	}
	for _, suffix := range pairedSuffixes {
		if strings.HasSuffix(k, suffix) {
			return KindPairedCredential
		}
	}
	for _, suffix := range numericSuffixes {
		if strings.HasSuffix(k, suffix) {
			return KindNumericIdentity
		}
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(k, suffix) {
			return KindGenericSecret
		}
	}
	return KindUnknown
}

// CounterpartKeys 返回成对凭据另一半的候选键名。
// 口令侧对应两种用户名后缀写法，所以可能有多个候选。
func CounterpartKeys(key string) []string {
	k := strings.ToUpper(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(k, "_DB_PASSWORD"):
		base := strings.TrimSuffix(k, "_DB_PASSWORD")
		return []string{base + "_DB_USER", base + "_DB_USERNAME"}
	case strings.HasSuffix(k, "_DB_USERNAME"):
		return []string{strings.TrimSuffix(k, "_DB_USERNAME") + "_DB_PASSWORD"}
	case strings.HasSuffix(k, "_DB_USER"):
		return []string{strings.TrimSuffix(k, "_DB_USER") + "_DB_PASSWORD"}
	default:
		return nil
	}
}

// isPasswordSide 报告成对凭据的 key 是否为口令一侧。
func isPasswordSide(key string) bool {
	return strings.HasSuffix(strings.ToUpper(key), "_DB_PASSWORD")
}
