package shortener

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize 將長網址化約為正規形式
//
// 正規化規則（依序套用）：
//  1. scheme 與 host 轉小寫（userinfo 原樣保留，大小寫敏感）
//  2. 移除 scheme 的預設埠（http:80、https:443）
//  3. 移除路徑結尾的斜線（根路徑變為空路徑）
//  4. query string 與 fragment 原樣保留（不做 percent-decode、不重排參數）
//
// 為什麼要正規化？
//   - 讓只差在大小寫、結尾斜線、顯式預設埠的 URL 歸一
//   - 後續的聚合點擊統計才能以字串相等判斷「相同目的地」
//
// 拒絕條件（ErrInvalidInput）：
//   - 空白輸入
//   - 超過 MaxURLLength
//   - URL 解析失敗
//   - scheme 不是 http/https
//     → 防範 open-redirect / XSS scheme 濫用（javascript:、data:、ftp:）
//
// 性質：冪等。Normalize(Normalize(x)) == Normalize(x)。
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is empty", ErrInvalidInput)
	}
	if len(trimmed) > MaxURLLength {
		return "", fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, MaxURLLength)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url", ErrInvalidInput)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidInput)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidInput)
	}

	// 只有非預設埠才保留
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	// 移除所有結尾斜線；根路徑 "/" 變為空路徑。
	// 只移除一個的話 "//" 會變成 "/"，再正規化一次又變成 ""，
	// 破壞冪等性；一次移到底讓兩個性質同時成立。
	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(host)
	b.WriteString(path)
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if frag := u.EscapedFragment(); frag != "" {
		b.WriteByte('#')
		b.WriteString(frag)
	}
	return b.String(), nil
}
