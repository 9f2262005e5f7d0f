package translator

import (
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/service"
)

// Config groups the settings of every translator
type Config struct {
	KQL   KQLConfig   `mapstructure:"kql"`
	SPL   SPLConfig   `mapstructure:"spl"`
	Sigma SigmaConfig `mapstructure:"sigma"`
	YARAL YARALConfig `mapstructure:"yaral"`
}

// DefaultConfig returns the default settings of every translator
func DefaultConfig() Config {
	return Config{
		KQL:   DefaultKQLConfig(),
		SPL:   DefaultSPLConfig(),
		Sigma: DefaultSigmaConfig(),
		YARAL: DefaultYARALConfig(),
	}
}

// New returns the translator for a platform id
func New(platform string, cfg Config, logger *logging.Logger) (service.Translator, error) {
	p, err := entity.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}

	switch p {
	case entity.PlatformSentinel:
		return NewKQLTranslator(cfg.KQL, logger), nil
	case entity.PlatformSplunk:
		return NewSPLTranslator(cfg.SPL, logger), nil
	case entity.PlatformSigma:
		return NewSigmaTranslator(cfg.Sigma, logger), nil
	case entity.PlatformChronicle:
		return NewYARALTranslator(cfg.YARAL, logger), nil
	}
	return nil, &entity.UnsupportedPlatformError{Platform: platform}
}

// NewAll returns one translator per supported platform
func NewAll(cfg Config, logger *logging.Logger) []service.Translator {
	platforms := entity.AllPlatforms()
	out := make([]service.Translator, 0, len(platforms))
	for _, p := range platforms {
		t, err := New(string(p), cfg, logger)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
