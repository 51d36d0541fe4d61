package configreg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Status 为一次提交走完验证管线后的终态。
type Status string

const (
	// StatusValid 校验通过并已入库。
	StatusValid Status = "valid"
	// StatusInvalid 在线验证明确否定，未入库。
	StatusInvalid Status = "invalid"
	// StatusUnknown 无法验证，乐观接受并入库。
	StatusUnknown Status = "unknown"
	// StatusDefault 识别为模板默认/占位值，静默丢弃（不是错误）。
	StatusDefault Status = "default"
	// StatusRejected 空值或格式校验失败，未入库。
	StatusRejected Status = "rejected"
)

// Verdict 为一次登记比对的结论。
type Verdict string

const (
	// VerdictUnknown 该键从未登记过（首次见到，不是错误）。
	VerdictUnknown Verdict = "unknown"
	// VerdictMatch 现场值与登记值一致。
	VerdictMatch Verdict = "match"
	// VerdictMismatch 检测到漂移；登记值保持不动，漂移进审计表。
	VerdictMismatch Verdict = "mismatch"
)

var (
	// ErrValidationRejected 空值、长度不足或格式不符，调用方收到后不应重试同一值。
	ErrValidationRejected = errors.New("validation rejected")
	// ErrVerificationFailed 在线服务明确否定了候选凭据。
	ErrVerificationFailed = errors.New("verification failed")
)

// MaskedValue 为批量读取时所有 is_secret 行的固定掩码，与真实值长度无关。
const MaskedValue = "********"

var numericPattern = regexp.MustCompile(`^[0-9]+$`)

// Result 为 Submit 的结构化结果。
type Result struct {
	Key    string
	Kind   KeyKind
	Status Status
	Stored bool
	Reason string
}

// ReconcileReport 为一次批量对账的计数结果。
type ReconcileReport struct {
	Matched     int
	Mismatched  int
	NewlyStored int
	Rejected    int
}

type submitOpts struct {
	override    bool
	description string
	counterpart string
}

type SubmitOption func(*submitOpts)

// WithOverride 显式绕过在线验证（人工确认路径）；格式类校验仍然生效。
func WithOverride() SubmitOption {
	return func(o *submitOpts) { o.override = true }
}

func WithDescription(d string) SubmitOption {
	return func(o *submitOpts) { o.description = d }
}

// WithCounterpart 随提交携带成对凭据的另一半（例如口令键附带用户名），
// 使成对验证不依赖另一半已经入库。
func WithCounterpart(v string) SubmitOption {
	return func(o *submitOpts) { o.counterpart = v }
}

// Registry 维护已验证配置值的登记表并检测漂移。
type Registry struct {
	store    *storage.Storage
	defaults Defaults
	checker  LiveChecker
}

// New 构造登记表。checker 可以为 nil：所有在线验证分支退化为 unknown。
func New(store *storage.Storage, defaults Defaults, checker LiveChecker) (*Registry, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Registry{store: store, defaults: defaults, checker: checker}, nil
}

func (r *Registry) db(ctx context.Context) (*gorm.DB, error) {
	if r == nil || r.store == nil || r.store.DB() == nil {
		return nil, storage.ErrStorageUnavailable
	}
	return r.store.DB().WithContext(ctx), nil
}

// Submit 让一个候选值走完整条验证管线：
// 空值检查 -> 默认值检查 -> 按 KeyKind 分派校验 -> 入库。
// 默认/占位值静默丢弃（Status=default，err=nil）；invalid/rejected 永不入库。
// 在线验证发生在登记写入之前、独立会话中，超时取 ctx 截止时间。
func (r *Registry) Submit(ctx context.Context, key, value, sourceFile string, isSecret bool, opts ...SubmitOption) (Result, error) {
	var o submitOpts
	for _, opt := range opts {
		opt(&o)
	}

	kind := ClassifyKey(key)
	res := Result{Key: key, Kind: kind}

	if key == "" {
		res.Status = StatusRejected
		res.Reason = "empty key"
		return res, fmt.Errorf("%w: empty key", ErrValidationRejected)
	}
	if value == "" {
		res.Status = StatusRejected
		res.Reason = "empty value"
		return res, fmt.Errorf("%w: empty value for %s", ErrValidationRejected, key)
	}

	if r.defaults.IsDefault(key, value) {
		res.Status = StatusDefault
		res.Reason = "template default or placeholder"
		return res, nil
	}

	switch kind {
	case KindRootCredential:
		res.Status, res.Reason = r.verifyRoot(ctx, value, o)
	case KindPairedCredential:
		res.Status, res.Reason = r.verifyPair(ctx, key, value, o)
	case KindNumericIdentity:
		if numericPattern.MatchString(value) {
			res.Status = StatusValid
		} else {
			res.Status = StatusRejected
			res.Reason = "not an unsigned integer"
			return res, fmt.Errorf("%w: %s is not an unsigned integer", ErrValidationRejected, key)
		}
	case KindGenericSecret:
		if len(value) >= 8 {
			res.Status = StatusValid
		} else {
			res.Status = StatusRejected
			res.Reason = "secret shorter than 8 characters"
			return res, fmt.Errorf("%w: %s shorter than 8 characters", ErrValidationRejected, key)
		}
	default:
		res.Status = StatusUnknown
		res.Reason = "unclassified key, accepted without validation"
	}

	if res.Status == StatusInvalid {
		return res, fmt.Errorf("%w: live check rejected %s", ErrVerificationFailed, key)
	}

	if err := r.persist(ctx, key, value, sourceFile, o.description, isSecret); err != nil {
		return res, err
	}
	res.Stored = true
	return res, nil
}

func (r *Registry) verifyRoot(ctx context.Context, password string, o submitOpts) (Status, string) {
	if o.override {
		return StatusValid, "live check bypassed by override"
	}
	if r.checker == nil {
		return StatusUnknown, "no live checker configured"
	}
	err := r.checker.CheckRoot(ctx, password)
	switch {
	case err == nil:
		return StatusValid, "live check passed"
	case errors.Is(err, ErrBadCredential):
		return StatusInvalid, "live check rejected credential"
	default:
		return StatusUnknown, "service unreachable: " + err.Error()
	}
}

func (r *Registry) verifyPair(ctx context.Context, key, value string, o submitOpts) (Status, string) {
	if o.override {
		return StatusValid, "live check bypassed by override"
	}
	if r.checker == nil {
		return StatusUnknown, "no live checker configured"
	}

	counterpart := o.counterpart
	if counterpart == "" {
		for _, ck := range CounterpartKeys(key) {
			stored, err := r.get(ctx, ck)
			if err == nil {
				counterpart = stored.Value
				break
			}
		}
	}
	if counterpart == "" {
		return StatusUnknown, "counterpart credential not available"
	}

	username, password := counterpart, value
	if !isPasswordSide(key) {
		username, password = value, counterpart
	}

	err := r.checker.CheckPair(ctx, username, password)
	switch {
	case err == nil:
		return StatusValid, "live check passed"
	case errors.Is(err, ErrBadCredential):
		return StatusInvalid, "live check rejected credential pair"
	default:
		return StatusUnknown, "service unreachable: " + err.Error()
	}
}

func (r *Registry) persist(ctx context.Context, key, value, sourceFile, description string, isSecret bool) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	row := storage.ConfigValue{
		ConfigKey:     key,
		Value:         value,
		SourceFile:    sourceFile,
		Description:   description,
		IsSecret:      isSecret,
		VerifiedMatch: true,
		FirstStored:   now,
		LastVerified:  now,
	}

	assignments := map[string]interface{}{
		"value":          value,
		"source_file":    sourceFile,
		"is_secret":      isSecret,
		"verified_match": true,
		"last_verified":  now,
	}
	if description != "" {
		assignments["description"] = description
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("persist config value: %w", err)
	}

	return r.ResolveAllForKey(ctx, key)
}

func (r *Registry) get(ctx context.Context, key string) (storage.ConfigValue, error) {
	db, err := r.db(ctx)
	if err != nil {
		return storage.ConfigValue{}, err
	}
	var row storage.ConfigValue
	if err := db.Where("config_key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ConfigValue{}, err
		}
		return storage.ConfigValue{}, fmt.Errorf("get config value %s: %w", key, err)
	}
	return row, nil
}

// ValidateAgainstRegistry 把现场观察值与登记值比对。
// 未登记的键返回 unknown（首次见到，不是错误），不产生漂移记录。
// 不一致时恰好追加一条漂移审计行并递增 mismatch_count；
// 登记值保持不动——漂移是信号，不是覆盖的理由。
func (r *Registry) ValidateAgainstRegistry(ctx context.Context, key, currentValue, sourceFile string) (Verdict, error) {
	db, err := r.db(ctx)
	if err != nil {
		return "", err
	}

	stored, err := r.get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return VerdictUnknown, nil
		}
		return "", err
	}

	now := time.Now().UTC()
	if stored.Value == currentValue {
		if err := db.Model(&storage.ConfigValue{}).
			Where("config_key = ?", key).
			Updates(map[string]interface{}{
				"verified_match": true,
				"last_verified":  now,
			}).Error; err != nil {
			return "", fmt.Errorf("refresh verified: %w", err)
		}
		return VerdictMatch, nil
	}

	if err := db.Model(&storage.ConfigValue{}).
		Where("config_key = ?", key).
		Updates(map[string]interface{}{
			"verified_match": false,
			"mismatch_count": gorm.Expr("mismatch_count + 1"),
			"last_mismatch":  now,
		}).Error; err != nil {
		return "", fmt.Errorf("record mismatch: %w", err)
	}

	disc := storage.ConfigDiscrepancy{
		ConfigKey:     key,
		ExpectedValue: stored.Value,
		FoundValue:    currentValue,
		SourceFile:    sourceFile,
	}
	if err := db.Create(&disc).Error; err != nil {
		return "", fmt.Errorf("append discrepancy: %w", err)
	}

	return VerdictMismatch, nil
}

// BulkReconcile 对一批 key=value 观察值做对账：
// 默认值直接拒绝；已登记的键走比对；新键走完整提交管线。
// is_secret 按 KeyKind 推断（root/成对口令/普通机密视为机密）。
//
// 并发对账没有跨进程协调：两次同时首见同一键时可能各自报告 newly stored，
// 文件锁下后写者的值生效（last write wins）。
func (r *Registry) BulkReconcile(ctx context.Context, pairs map[string]string, sourceFile string) (ReconcileReport, error) {
	var report ReconcileReport
	if _, err := r.db(ctx); err != nil {
		return report, err
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := pairs[key]

		if r.defaults.IsDefault(key, value) || value == "" {
			report.Rejected++
			continue
		}

		if _, err := r.get(ctx, key); err == nil {
			verdict, err := r.ValidateAgainstRegistry(ctx, key, value, sourceFile)
			if err != nil {
				return report, err
			}
			switch verdict {
			case VerdictMatch:
				report.Matched++
			case VerdictMismatch:
				report.Mismatched++
			}
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return report, err
		}

		opts := []SubmitOption{}
		for _, ck := range CounterpartKeys(key) {
			if v, ok := pairs[ck]; ok && v != "" {
				opts = append(opts, WithCounterpart(v))
				break
			}
		}

		res, err := r.Submit(ctx, key, value, sourceFile, inferSecret(key), opts...)
		switch {
		case err != nil && (errors.Is(err, ErrValidationRejected) || errors.Is(err, ErrVerificationFailed)):
			report.Rejected++
		case err != nil:
			return report, err
		case res.Stored:
			report.NewlyStored++
		default:
			report.Rejected++
		}
	}

	return report, nil
}

func inferSecret(key string) bool {
	switch ClassifyKey(key) {
	case KindRootCredential, KindGenericSecret:
		return true
	case KindPairedCredential:
		return isPasswordSide(key)
	default:
		return false
	}
}

// All 返回全部登记行，按键名排序；is_secret 行的值一律替换为固定掩码，
// 与真实值长度无关。
func (r *Registry) All(ctx context.Context) ([]storage.ConfigValue, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var rows []storage.ConfigValue
	if err := db.Model(&storage.ConfigValue{}).
		Order("config_key ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list config values: %w", err)
	}
	for i := range rows {
		if rows[i].IsSecret {
			rows[i].Value = MaskedValue
		}
	}
	return rows, nil
}

// Display 返回单个键的展示值：长度超过 6 的值露出首尾各两个字符，
// 其余固定掩码。
func (r *Registry) Display(ctx context.Context, key string) (string, error) {
	stored, err := r.get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("config key not registered: %s", key)
		}
		return "", err
	}
	return maskDisplay(stored.Value), nil
}

func maskDisplay(v string) string {
	if len(v) > 6 {
		return v[:2] + "****" + v[len(v)-2:]
	}
	return "******"
}

// Discrepancies 返回漂移审计行，最新在前。
func (r *Registry) Discrepancies(ctx context.Context, onlyUnresolved bool) ([]storage.ConfigDiscrepancy, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&storage.ConfigDiscrepancy{})
	if onlyUnresolved {
		q = q.Where("resolved = ?", false)
	}
	var rows []storage.ConfigDiscrepancy
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list discrepancies: %w", err)
	}
	return rows, nil
}

func (r *Registry) ResolveDiscrepancy(ctx context.Context, id uint64) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	res := db.Model(&storage.ConfigDiscrepancy{}).Where("id = ?", id).Update("resolved", true)
	if res.Error != nil {
		return fmt.Errorf("resolve discrepancy: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("discrepancy not found: %d", id)
	}
	return nil
}

func (r *Registry) ResolveAllForKey(ctx context.Context, key string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Model(&storage.ConfigDiscrepancy{}).
		Where("config_key = ? AND resolved = ?", key, false).
		Update("resolved", true).Error; err != nil {
		return fmt.Errorf("resolve discrepancies for %s: %w", key, err)
	}
	return nil
}

// DeleteKey 抹掉某个键的登记值，强制下次提交重新走完整管线。
func (r *Registry) DeleteKey(ctx context.Context, key string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	res := db.Where("config_key = ?", key).Delete(&storage.ConfigValue{})
	if res.Error != nil {
		return fmt.Errorf("delete config value: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("config key not registered: %s", key)
	}
	return nil
}
