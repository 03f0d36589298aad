package models

// ProductResponse is the JSON projection of a Product.
type ProductResponse struct {
	ProductHash     string  `json:"product_hash"`
	Chain           string  `json:"chain"`
	MerchantAddress string  `json:"merchant_address"`
	TokenAddress    string  `json:"token_address"`
	TokenSymbol     string  `json:"token_symbol"`
	TokenDecimals   int32   `json:"token_decimals"`
	UintAmount      string  `json:"uint_amount"`
	HumanAmount     float64 `json:"human_amount"`
	Period          int64   `json:"period"`
	FreeTrialLength int64   `json:"free_trial_length"`
	PaymentPeriod   int64   `json:"payment_period"`
	MetadataCID     string  `json:"metadata_cid"`
	MerchantDomain  string  `json:"merchant_domain"`
	ProductName     string  `json:"product_name"`
}

// SubscriptionResponse is the JSON projection of a Subscription, including
// the derived billing-cycle fields evaluated at serialization time.
type SubscriptionResponse struct {
	SubscriptionHash string          `json:"subscription_hash"`
	Product          ProductResponse `json:"product"`
	UserAddress      string          `json:"user_address"`
	StartTs          int64           `json:"start_ts"`
	PaymentsMade     int64           `json:"payments_made"`
	Terminated       bool            `json:"terminated"`
	MetadataCID      string          `json:"metadata_cid"`
	SubscriptionID   *string         `json:"subscription_id"`
	UserID           *string         `json:"user_id"`
	Status           string          `json:"status"`
	IsActive         bool            `json:"is_active"`
	NextPaymentAt    int64           `json:"next_payment_at"`
}

// SubscriptionLogResponse is the JSON projection of a SubscriptionLog.
type SubscriptionLogResponse struct {
	LogType          string `json:"log_type"`
	SubscriptionHash string `json:"subscription_hash"`
	PaymentNumber    int64  `json:"payment_number"`
	Message          string `json:"message"`
	Timestamp        int64  `json:"timestamp"`
}

// ToResponse builds the JSON projection of p.
func (p *Product) ToResponse() ProductResponse {
	amount := "0"
	if p.UintAmount != nil {
		amount = p.UintAmount.String()
	}
	return ProductResponse{
		ProductHash:     p.Hash,
		Chain:           p.Chain.String(),
		MerchantAddress: p.MerchantAddress,
		TokenAddress:    p.TokenAddress,
		TokenSymbol:     p.TokenSymbol,
		TokenDecimals:   p.TokenDecimals,
		UintAmount:      amount,
		HumanAmount:     p.HumanAmount(),
		Period:          p.Period,
		FreeTrialLength: p.FreeTrialLength,
		PaymentPeriod:   p.PaymentPeriod,
		MetadataCID:     p.MetadataCID,
		MerchantDomain:  p.MerchantDomain,
		ProductName:     p.ProductName,
	}
}

// ToResponse builds the JSON projection of s with derived fields evaluated
// at the given time.
func (s *Subscription) ToResponse(now int64) SubscriptionResponse {
	return SubscriptionResponse{
		SubscriptionHash: s.Hash,
		Product:          s.Product.ToResponse(),
		UserAddress:      s.UserAddress,
		StartTs:          s.StartTs,
		PaymentsMade:     s.PaymentsMade,
		Terminated:       s.Terminated,
		MetadataCID:      s.MetadataCID,
		SubscriptionID:   s.SubscriptionID,
		UserID:           s.UserID,
		Status:           s.Status(now),
		IsActive:         s.IsActive(now),
		NextPaymentAt:    s.NextPaymentAt(),
	}
}

// ToResponse builds the JSON projection of l.
func (l *SubscriptionLog) ToResponse() SubscriptionLogResponse {
	return SubscriptionLogResponse{
		LogType:          l.LogType,
		SubscriptionHash: l.SubscriptionHash,
		PaymentNumber:    l.PaymentNumber,
		Message:          l.Message,
		Timestamp:        l.Timestamp,
	}
}
