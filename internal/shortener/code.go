package shortener

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// alphabet 短碼使用的 62 個英數字符（URL 安全，無需轉義）
const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeFunc 短碼生成函數
//
// 設計考量：
//   - 用函數型別而非接口：生成器沒有狀態，一個函數就夠
//   - 依賴注入到 Service：測試可以注入固定序列來製造碰撞
//   - 不保證唯一性：唯一性由 Store 的原子 insert 保證，
//     碰撞時由服務層重試（上限 MaxGenerateAttempts）
type CodeFunc func() (string, error)

// RandomCode 生成固定長度的隨機英數短碼
//
// 使用 crypto/rand：
//   - 併發安全（math/rand 的全域來源有鎖競爭，且可預測）
//   - 均勻分布（rand.Int 做了 rejection sampling，沒有模數偏差）
func RandomCode() (string, error) {
	result := make([]byte, CodeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random code: %w", err)
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result), nil
}

// validCode 檢查查詢用短碼格式（1..MaxCodeLength 個英數字符）
func validCode(code string) bool {
	if len(code) < 1 || len(code) > MaxCodeLength {
		return false
	}
	return isAlnum(code)
}

// validCustomCode 檢查自定義短碼格式（MinCustomCodeLength..MaxCustomCodeLength 個英數字符）
func validCustomCode(code string) bool {
	if len(code) < MinCustomCodeLength || len(code) > MaxCustomCodeLength {
		return false
	}
	return isAlnum(code)
}

func isAlnum(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
