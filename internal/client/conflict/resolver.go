// Package conflict реализует разрешение конфликтов сохранения.
//
// Слияние текстовых полей — построчное, с маркерами конфликтов для ручного
// разрешения. Это сознательное упрощение вместо настоящего operational
// transform над деревом документа: семантическое слияние не выполняется,
// строки, измененные с обеих сторон, оборачиваются в маркеры
// <<<<<<< LOCAL / ======= / >>>>>>> REMOTE и остаются человеку.
package conflict

import (
	"strings"

	"github.com/iudanet/collabsync/internal/models"
)

// Маркеры текстового конфликта
const (
	MarkerLocal     = "<<<<<<< LOCAL"
	MarkerSeparator = "======="
	MarkerRemote    = ">>>>>>> REMOTE"
)

// Resolution результат разрешения конфликта.
// Ровно одно из полей Content/Manual заполнено: Content — слитое состояние
// для повторного сохранения, Manual — конфликт, требующий явного решения
// вызывающей стороны (сохранение автоматически не повторяется).
type Resolution struct {
	Content models.Content
	Manual  *models.ConflictInfo
	// Markers — число текстовых блоков-маркеров в слитом содержимом.
	// Ненулевое значение означает неразрешенный текстовый конфликт,
	// который должен быть показан пользователю.
	Markers int
}

// Resolver выполняет стратегии разрешения конфликтов.
// Resolver не мутирует входные данные: возвращается новое состояние.
type Resolver struct{}

// NewResolver создает резолвер конфликтов.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve разрешает конфликт согласно выбранному режиму.
// Неизвестный режим трактуется как manual.
func (r *Resolver) Resolve(info *models.ConflictInfo, mode models.ResolutionMode) *Resolution {
	switch mode {
	case models.ResolutionOverwrite:
		// Локальное состояние отбрасывается целиком
		return &Resolution{Content: info.Remote.Content.Clone()}
	case models.ResolutionMerge:
		return r.merge(info)
	case models.ResolutionManual:
		return &Resolution{Manual: info}
	default:
		return &Resolution{Manual: info}
	}
}

// merge выполняет пополевое слияние по списку расхождений.
func (r *Resolver) merge(info *models.ConflictInfo) *Resolution {
	merged := info.Local.Content.Clone()
	markers := 0

	for _, detail := range info.Conflicts {
		switch detail.Kind {
		case models.ConflictContent:
			localText, localOK := detail.LocalValue.(string)
			remoteText, remoteOK := detail.RemoteValue.(string)
			if localOK && remoteOK {
				text, n := MergeLines(localText, remoteText)
				merged[detail.Path] = text
				markers += n
				continue
			}
			// Нестроковый контент сливать построчно нельзя — remote wins
			setOrDelete(merged, detail.Path, detail.RemoteValue)

		case models.ConflictMetadata:
			// Last-writer-wins на уровне поля
			setOrDelete(merged, detail.Path, detail.RemoteValue)

		case models.ConflictStructure:
			// Поверхностное слияние: поля remote перекрывают local,
			// остальное сохраняется. Настоящее структурное слияние требует
			// OT над деревом узлов документа и здесь не выполняется.
			merged[detail.Path] = shallowMerge(detail.LocalValue, detail.RemoteValue)

		default:
			setOrDelete(merged, detail.Path, detail.RemoteValue)
		}
	}

	return &Resolution{Content: merged, Markers: markers}
}

// setOrDelete записывает значение по пути; nil означает удаление поля.
func setOrDelete(content models.Content, path string, value any) {
	if value == nil {
		delete(content, path)
		return
	}
	content[path] = value
}

// shallowMerge сливает два значения-объекта: поля remote перекрывают local.
// Если одна из сторон не объект, возвращается remote.
func shallowMerge(local, remote any) any {
	localMap, localOK := local.(map[string]any)
	remoteMap, remoteOK := remote.(map[string]any)
	if !localOK || !remoteOK {
		return remote
	}

	out := make(map[string]any, len(localMap)+len(remoteMap))
	for k, v := range localMap {
		out[k] = v
	}
	for k, v := range remoteMap {
		out[k] = v
	}
	return out
}

// MergeLines выполняет построчное слияние двух текстов.
// Совпадающие строки проходят как есть; строки, присутствующие только с
// одной стороны, сохраняются; строки, различающиеся с обеих сторон,
// оборачиваются в маркеры конфликта. Возвращает слитый текст и число
// блоков-маркеров. Для идентичных текстов результат равен входу и
// маркеров нет (идемпотентность).
func MergeLines(local, remote string) (string, int) {
	if local == remote {
		return local, 0
	}

	localLines := strings.Split(local, "\n")
	remoteLines := strings.Split(remote, "\n")

	var out []string
	markers := 0

	n := len(localLines)
	if len(remoteLines) > n {
		n = len(remoteLines)
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(localLines):
			// Строка есть только в remote
			out = append(out, remoteLines[i])
		case i >= len(remoteLines):
			// Строка есть только в local
			out = append(out, localLines[i])
		case localLines[i] == remoteLines[i]:
			out = append(out, localLines[i])
		default:
			// Обе стороны изменили строку — оставляем решение человеку
			out = append(out,
				MarkerLocal,
				localLines[i],
				MarkerSeparator,
				remoteLines[i],
				MarkerRemote,
			)
			markers++
		}
	}

	return strings.Join(out, "\n"), markers
}
