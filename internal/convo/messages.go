package convo

import "fmt"

// Catalog is the fixed product set, in prompting order.
var Catalog = []string{"キャベツ", "プリン", "カレー"}

// Keywords recognized in the dialogue.
const (
	KeywordStart        = "入力"
	KeywordCorrect      = "訂正"
	KeywordOrderCorrect = "発注訂正"
	KeywordCheck        = "確認"
	KeywordYes          = "はい"
	KeywordNo           = "いいえ"
	KeywordCancel       = "キャンセル"

	KindRemaining = "残数"
	KindOrdered   = "発注数"
)

// Fixed dialogue texts.
const (
	msgMenu         = "「入力」「訂正」「発注訂正」「確認」のいずれかを送信してください。"
	msgYesNo        = "「はい」または「いいえ」と送信してください。"
	msgCancelled    = "入力を中止しました。"
	msgConfirmStart = "本日の残数入力を開始します。よろしいですか？（はい／いいえ）"

	msgConfirmOverwrite = "本日の発注はすでに登録されています。入力し直しますか？（はい／いいえ）"

	msgNumericOnly           = "数字のみで送信してください。\n入力をやめる場合は「キャンセル」と送信してください。"
	msgNumericOnlyCorrection = "数字のみで送信してください。\n訂正をやめる場合は「キャンセル」と送信してください。"

	msgAllCollected = "３つすべての入力が完了しました。登録しますか？（はい／いいえ）"
	msgIncomplete   = "3商品の入力が未完です。"
	msgCommitted    = "本日の発注内容を登録しました。"
	msgCommitError  = "登録中にエラーが発生しました。"

	msgConfirmCorrection      = "登録内容を訂正します。よろしいですか？（はい／いいえ）"
	msgConfirmOrderCorrection = "発注数を訂正します。よろしいですか？（はい／いいえ）"
	msgCorrectionCancelled    = "訂正を中止しました。"
	msgCorrectionUnavailable  = "本日の発注がまだ登録されていません。先に「入力」を行ってください。"
	msgChooseKind             = "訂正する項目を選んでください。（残数／発注数）"
	msgKindOnly               = "「残数」または「発注数」と送信してください。\n訂正をやめる場合は「キャンセル」と送信してください。"
	msgChooseTarget           = "訂正する材料を選んでください。（キャベツ／プリン／カレー）"
	msgChooseOrderTarget      = "発注数を訂正する材料を選んでください。（キャベツ／プリン／カレー）"
	msgProductOnly            = "「キャベツ」「プリン」「カレー」のいずれかを送信してください。\n訂正をやめる場合は「キャンセル」と送信してください。"
	msgRetryTarget            = "訂正をやり直します。訂正する材料を選んでください。（キャベツ／プリン／カレー）"
	msgCorrectionMissing      = "訂正対象の記録が見つかりませんでした。"

	msgNoRecordToday = "本日の発注はまだ登録されていません。"
	msgCheckHeader   = "本日の発注内容："

	msgInternalError = "エラーが発生しました。もう一度お試しください。"
)

func promptRemaining(product string) string {
	return fmt.Sprintf("%sの残数を数字で入力してください。", product)
}

func promptOrdered(product string) string {
	return fmt.Sprintf("%sの発注数を数字で入力してください。", product)
}

func confirmRemaining(product string, quantity int64) string {
	return fmt.Sprintf("%sの残数を%dに訂正します。よろしいですか？（はい／いいえ）", product, quantity)
}

func confirmOrdered(product string, quantity int64) string {
	return fmt.Sprintf("%sの発注数を%dに訂正します。よろしいですか？（はい／いいえ）", product, quantity)
}

func correctedRemaining(product string) string {
	return fmt.Sprintf("%sの残数を訂正しました。", product)
}

func correctedOrdered(product string) string {
	return fmt.Sprintf("%sの発注数を訂正しました。", product)
}

func summaryLine(product string, orderQuantity int64) string {
	return fmt.Sprintf("%s：%d個", product, orderQuantity)
}

func inCatalog(text string) bool {
	for _, p := range Catalog {
		if p == text {
			return true
		}
	}
	return false
}
