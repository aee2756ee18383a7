package types

// RiskLevel 安全审计给出的风险等级
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
	RiskUnknown  RiskLevel = "UNKNOWN"
)

// SecurityReport 安全审计结果，外部服务与链上检查合并而来
type SecurityReport struct {
	RiskScore           int       `json:"risk_score"`
	RiskLevel           RiskLevel `json:"risk_level"`
	Risks               []string  `json:"risks"`
	Renounced           bool      `json:"renounced"`
	Mintable            bool      `json:"mintable"`
	Blacklist           bool      `json:"blacklist"`
	Top10HoldersPercent float64   `json:"top10_holders_percent"`
}

// UnknownSecurity 审计不可用时的保守默认值
func UnknownSecurity() *SecurityReport {
	return &SecurityReport{
		RiskScore:           100,
		RiskLevel:           RiskUnknown,
		Mintable:            true,
		Top10HoldersPercent: 100,
	}
}

// DevFlag 开发者钱包行为标记
type DevFlag string

const (
	DevUnknown DevFlag = "UNKNOWN"
	DevSafe    DevFlag = "SAFE"
	DevWarning DevFlag = "WARNING"
	DevDump    DevFlag = "DUMP"
)

// Severity SAFE < WARNING < DUMP，UNKNOWN 与 SAFE 同级
func (f DevFlag) Severity() int {
	switch f {
	case DevWarning:
		return 1
	case DevDump:
		return 2
	default:
		return 0
	}
}
