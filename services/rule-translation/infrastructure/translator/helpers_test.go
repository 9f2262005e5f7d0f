package translator

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/service"
)

func testLogger(t *testing.T) *logging.Logger {
	return logging.NewFromZap(zaptest.NewLogger(t), "rule-translation-test")
}

func powershellDetection() *entity.CanonicalDetection {
	return &entity.CanonicalDetection{
		Query: map[string]entity.Condition{
			"process.name":         {Operator: entity.OperatorEquals, Value: "powershell.exe"},
			"process.command_line": {Operator: entity.OperatorContains, Value: "-enc"},
		},
		DataModel:     &entity.DataModel{Source: entity.DataSourceProcess},
		MitreMappings: map[string][]string{"T1059": {"T1059.001"}},
		Metadata: map[string]interface{}{
			"title":    "Encoded PowerShell",
			"severity": "high",
			"author":   "detections",
		},
	}
}

func cmdDetection() *entity.CanonicalDetection {
	return &entity.CanonicalDetection{
		Query: map[string]entity.Condition{
			"process.name": {Operator: entity.OperatorEquals, Value: "cmd.exe"},
		},
		DataModel: &entity.DataModel{Source: entity.DataSourceProcess},
	}
}

func allTranslators(t *testing.T) []service.Translator {
	logger := testLogger(t)
	return []service.Translator{
		NewKQLTranslator(DefaultKQLConfig(), logger),
		NewSPLTranslator(DefaultSPLConfig(), logger),
		NewSigmaTranslator(DefaultSigmaConfig(), logger),
		NewYARALTranslator(DefaultYARALConfig(), logger),
	}
}

var (
	_ service.Translator = (*KQLTranslator)(nil)
	_ service.Translator = (*SPLTranslator)(nil)
	_ service.Translator = (*SigmaTranslator)(nil)
	_ service.Translator = (*YARALTranslator)(nil)
)
