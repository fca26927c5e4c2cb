package config

import "testing"

func TestNormalizeEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", EnvDevelopment},
		{"  ", EnvDevelopment},
		{"Production", EnvProduction},
		{" STAGING ", EnvStaging},
		{"qa", "qa"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeEnvironment(tt.in); got != tt.want {
				t.Errorf("NormalizeEnvironment(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnvironmentPredicates(t *testing.T) {
	tests := []struct {
		env         string
		development bool
		prodLike    bool
	}{
		{"", true, false},
		{"development", true, false},
		{"Staging", false, true},
		{"production", false, true},
		{"qa", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := IsDevelopment(tt.env); got != tt.development {
				t.Errorf("IsDevelopment(%q) = %v, want %v", tt.env, got, tt.development)
			}
			if got := IsProductionLike(tt.env); got != tt.prodLike {
				t.Errorf("IsProductionLike(%q) = %v, want %v", tt.env, got, tt.prodLike)
			}
			server := ServerConfig{Environment: tt.env}
			if got := server.IsProductionLike(); got != tt.prodLike {
				t.Errorf("ServerConfig.IsProductionLike() = %v, want %v", got, tt.prodLike)
			}
		})
	}
}
