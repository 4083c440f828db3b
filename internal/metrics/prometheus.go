package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Authorization outcomes.
const (
	OutcomeCodeIssued  = "code_issued"
	OutcomeTokenIssued = "token_issued"
	OutcomeDenied      = "denied"
	OutcomeExpired     = "expired"
)

var (
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_tokens_issued_total",
		Help: "Total number of access tokens issued, by grant type.",
	}, []string{"grant_type"})

	GrantFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_grant_failures_total",
		Help: "Total number of failed token requests, by grant type and OAuth2 error code.",
	}, []string{"grant_type", "error"})

	AuthorizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_authorizations_total",
		Help: "Total number of finished authorization requests, by outcome.",
	}, []string{"outcome"})

	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_tokens_revoked_total",
		Help: "Total number of tokens revoked.",
	})
)

// InitCustomMetrics registers the custom Prometheus metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	for name, c := range map[string]prometheus.Collector{
		"TokensIssuedTotal":   TokensIssuedTotal,
		"GrantFailuresTotal":  GrantFailuresTotal,
		"AuthorizationsTotal": AuthorizationsTotal,
		"TokensRevokedTotal":  TokensRevokedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msgf("Failed to register %s metric", name)
		}
	}

	log.Info().Msg("Custom Prometheus metrics registered.")
}
