package instruction

import "regexp"

// reportFileRe matches the {report:FILENAME} placeholder.
var reportFileRe = regexp.MustCompile(`\{report:([^}]+)\}`)

// texts holds the language-dependent fragments of the prompt scaffolding.
type texts struct {
	executionContext  string
	workingDir        string
	editEnabled       string
	rulesHeader       string
	noCommit          string
	noChdir           string
	noSourceEdits     string
	pieceStructure    string
	movementCount     string
	current           string
	iterationMeta     string
	iteration         string
	movementIteration string
	movement          string
	reportTarget      string
	reportDir         string
	reportFile        string
	reportFormat      string
	reportLater       string
	appendIteration   string
	userRequest       string
	additionalInputs  string
	previousResponse  string
	judgmentLead      string
	decisionCriteria  string
	condition         string
	tag               string
	outputFormat      string
	appendix          string
}

var english = texts{
	executionContext:  "Execution Context",
	workingDir:        "Working directory",
	editEnabled:       "File edits are enabled for this movement.",
	rulesHeader:       "Rules:",
	noCommit:          "Do not commit or push.",
	noChdir:           "Do not change the working directory.",
	noSourceEdits:     "Do not modify source files.",
	pieceStructure:    "Piece Structure",
	movementCount:     "This piece has %d movements:",
	current:           "current",
	iterationMeta:     "Iteration",
	iteration:         "Iteration",
	movementIteration: "Movement iteration",
	movement:          "Movement",
	reportTarget:      "Report",
	reportDir:         "Report directory",
	reportFile:        "Report file",
	reportFormat:      "Report Format",
	reportLater:       "The report file contents are generated in a follow-up step; do not write the file now.",
	appendIteration:   "Append your findings to the report file under a `## Iteration %d` section.",
	userRequest:       "User Request",
	additionalInputs:  "Additional Inputs",
	previousResponse:  "Previous Response",
	judgmentLead:      "Determine the status of the work above without performing any additional work.",
	decisionCriteria:  "Decision Criteria",
	condition:         "Condition",
	tag:               "Tag",
	outputFormat:      "Output Format",
	appendix:          "Appendix for",
}

var japanese = texts{
	executionContext:  "実行コンテキスト",
	workingDir:        "作業ディレクトリ",
	editEnabled:       "このムーブメントではファイル編集が許可されています。",
	rulesHeader:       "ルール:",
	noCommit:          "コミットやプッシュを行わないでください。",
	noChdir:           "作業ディレクトリを変更しないでください。",
	noSourceEdits:     "ソースファイルを変更しないでください。",
	pieceStructure:    "ピース構成",
	movementCount:     "このピースは%d個のムーブメントで構成されています:",
	current:           "現在",
	iterationMeta:     "イテレーション",
	iteration:         "イテレーション",
	movementIteration: "ムーブメントのイテレーション",
	movement:          "ムーブメント",
	reportTarget:      "レポート",
	reportDir:         "レポートディレクトリ",
	reportFile:        "レポートファイル",
	reportFormat:      "レポート形式",
	reportLater:       "レポートの内容は後続のステップで生成します。今はファイルを書かないでください。",
	appendIteration:   "レポートファイルの `## Iteration %d` セクションに結果を追記してください。",
	userRequest:       "ユーザーリクエスト",
	additionalInputs:  "追加入力",
	previousResponse:  "前回の応答",
	judgmentLead:      "追加の作業を行わず、上記の作業のステータスを判定してください。",
	decisionCriteria:  "判定基準",
	condition:         "条件",
	tag:               "タグ",
	outputFormat:      "出力形式",
	appendix:          "補足:",
}

func translations(language string) *texts {
	if language == "ja" {
		return &japanese
	}
	return &english
}
