package allora

// ConfidenceInterval 根据置信度推算预测价格的区间。
// 置信度越低区间越宽；置信度无效时按最低置信度处理。
func (p *Prediction) ConfidenceInterval() (low, high float64) {
	if p == nil || p.Price <= 0 {
		return 0, 0
	}
	confidence := p.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0
	}
	// 区间半宽与 (1 - confidence) 成正比，满置信时收敛为点估计。
	halfWidth := p.Price * (1 - confidence)
	return p.Price - halfWidth, p.Price + halfWidth
}
