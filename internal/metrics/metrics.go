package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})

	Lockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts transitioned to the locked state.",
	})

	RefreshRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Refresh token exchanges by outcome.",
	}, []string{"outcome"})

	APIKeyValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_api_key_validations_total",
		Help: "API key validations by outcome.",
	}, []string{"outcome"})
)

func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{LoginAttempts, Lockouts, RefreshRotations, APIKeyValidations} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func Handler() http.Handler {
	return promhttp.Handler()
}
