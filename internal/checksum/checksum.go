// Package checksum вычисляет детерминированный отпечаток содержимого
// документа. Отпечаток используется как дешевый детектор расхождения перед
// полным сравнением полей; криптографическая стойкость не требуется, важна
// только устойчивость к коллизиям на уровне "одинаковый контент — одинаковая
// сумма".
package checksum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/iudanet/collabsync/internal/models"
)

// Content вычисляет контрольную сумму снимка содержимого.
// Сериализация через encoding/json детерминирована: ключи map
// упорядочиваются лексикографически, поэтому одинаковый контент
// всегда дает одинаковую сумму.
func Content(content models.Content) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	return Bytes(data), nil
}

// Bytes вычисляет контрольную сумму произвольного сериализованного контента.
func Bytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
