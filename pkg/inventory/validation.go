package inventory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	skuPattern       = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	lotNumberPattern = regexp.MustCompile(`^[a-zA-Z0-9_./-]*$`)
	eanPattern       = regexp.MustCompile(`^[0-9]{8,14}$`)
	emailPattern     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateID 参照IDをバリデーション
func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError(field, "IDが空です", id)
	}
	if len(id) > 255 {
		return NewValidationError(field, "IDが長すぎます", id)
	}
	return nil
}

// ValidateQuantity 数量をバリデーション（正の値のみ許可）
func ValidateQuantity(quantity int64) error {
	if quantity <= 0 {
		return NewQuantityError(quantity)
	}
	if quantity > 999999999 {
		return NewValidationError("quantity", "数量が有効範囲を超えています", fmt.Sprintf("%d", quantity))
	}
	return nil
}

// ValidateProductName 商品名をバリデーション
func ValidateProductName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "商品名が空です", name)
	}
	if len(name) > 500 {
		return NewValidationError("name", "商品名が長すぎます", name)
	}
	return nil
}

// ValidateSKU SKUの形式をバリデーション
func ValidateSKU(sku string) error {
	if sku == "" {
		return nil // SKUは任意
	}
	if len(sku) > 255 {
		return NewValidationError("sku", "SKUが長すぎます", sku)
	}
	if !skuPattern.MatchString(sku) {
		return NewValidationError("sku", "SKUに無効な文字が含まれています", sku)
	}
	return nil
}

// ValidateDescription 説明の形式をバリデーション
func ValidateDescription(description string) error {
	if len(description) > 2000 {
		return NewValidationError("description", "説明が長すぎます", description)
	}
	return nil
}

// ValidateLotNumber ロット番号の形式をバリデーション
// 空のロット番号は「ロットなし」として許可
func ValidateLotNumber(lotNumber string) error {
	if len(lotNumber) > 255 {
		return NewValidationError("lot_number", "ロット番号が長すぎます", lotNumber)
	}
	if !lotNumberPattern.MatchString(lotNumber) {
		return NewValidationError("lot_number", "ロット番号に無効な文字が含まれています", lotNumber)
	}
	return nil
}

// ValidateEAN EANコードの形式をバリデーション
func ValidateEAN(ean string) error {
	if ean == "" {
		return nil // EANは任意
	}
	if !eanPattern.MatchString(ean) {
		return NewValidationError("ean", "EANコードは8〜14桁の数字である必要があります", ean)
	}
	return nil
}

// ValidatePositionCode 位置コードをバリデーション
func ValidatePositionCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return NewValidationError("code", "位置コードが空です", code)
	}
	if len(code) > 64 || !IsASCII(code) {
		return NewValidationError("code", "位置コードが無効です", code)
	}
	return nil
}

// ValidateOperationNumber オペレーション番号をバリデーション
func ValidateOperationNumber(number string) error {
	if strings.TrimSpace(number) == "" {
		return NewValidationError("number", "オペレーション番号が空です", number)
	}
	if len(number) > 64 {
		return NewValidationError("number", "オペレーション番号が長すぎます", number)
	}
	return nil
}

// ValidateOperationType オペレーション種別をバリデーション
func ValidateOperationType(t OperationType) error {
	if !t.Valid() {
		return NewValidationError("type", "無効なオペレーション種別です", string(t))
	}
	return nil
}

// ValidateAddress 住所ブロックをバリデーション
func ValidateAddress(field string, a *Address) error {
	if a == nil {
		return nil
	}
	if a.Email != "" && !IsValidEmail(a.Email) {
		return NewValidationError(field+".email", "メールアドレスの形式が無効です", a.Email)
	}
	if a.Country != "" && (len(a.Country) != 2 || !ContainsOnlyAlphanumeric(a.Country)) {
		return NewValidationError(field+".country", "国コードは2文字である必要があります", a.Country)
	}
	return nil
}

// ValidateLine 明細行をバリデーション
func ValidateLine(t OperationType, line OperationLine) error {
	if err := ValidateID("product_id", line.ProductID); err != nil {
		return err
	}
	if err := ValidateQuantity(line.Quantity); err != nil {
		return err
	}
	if line.LotNumber != nil {
		if err := ValidateLotNumber(*line.LotNumber); err != nil {
			return err
		}
	}
	if line.ContainerEAN != nil {
		if t == OperationTypeOut && *line.ContainerEAN != "" {
			return NewValidationError("container_ean", "出庫明細にコンテナは指定できません", *line.ContainerEAN)
		}
		if err := ValidateEAN(*line.ContainerEAN); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCreateRequest オペレーション作成リクエストをバリデーション
func ValidateCreateRequest(req CreateOperationRequest) error {
	if err := ValidateOperationType(req.Type); err != nil {
		return err
	}
	if err := ValidateOperationNumber(req.Number); err != nil {
		return err
	}
	if err := ValidateID("client_id", req.ClientID); err != nil {
		return err
	}
	if err := ValidateDescription(req.Description); err != nil {
		return err
	}
	if err := ValidateAddress("delivery", req.Delivery); err != nil {
		return err
	}
	return ValidateAddress("invoice", req.Invoice)
}

// IsASCII 文字列がASCII文字のみかをチェック
func IsASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// ContainsOnlyAlphanumeric 文字列が英数字のみかをチェック
func ContainsOnlyAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// IsValidEmail メールアドレスの形式をチェック
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
