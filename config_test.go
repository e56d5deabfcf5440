package mqpub

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MQ_PROVIDER", "kafka")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ProviderKafka, cfg.Provider)
	assert.Equal(t, "localhost:9092", cfg.KafkaBootstrapServers)
	assert.Equal(t, "public/default", cfg.PulsarNamespace)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_DefaultsToGCloud(t *testing.T) {
	t.Setenv("MQ_PROVIDER", "")
	require.NoError(t, os.Unsetenv("MQ_PROVIDER"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ProviderGCloud, cfg.Provider)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"gcloud ok", Config{Provider: ProviderGCloud, GCloudProject: "p"}, false},
		{"gcloud missing project", Config{Provider: ProviderGCloud}, true},
		{"aws ok", Config{Provider: ProviderAWS, AWSRegion: "us-east-1"}, false},
		{"aws missing region", Config{Provider: ProviderAWS}, true},
		{"kafka missing servers", Config{Provider: ProviderKafka}, true},
		{"nats default url", Config{Provider: ProviderNATS}, false},
		{"pulsar missing admin", Config{Provider: ProviderPulsar, PulsarURL: "pulsar://localhost:6650"}, true},
		{"pulsar ok", Config{Provider: ProviderPulsar, PulsarURL: "pulsar://localhost:6650", PulsarAdminURL: "http://localhost:8080"}, false},
		{"memory", Config{Provider: ProviderMemory}, false},
		{"unknown", Config{Provider: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewBroker_Memory(t *testing.T) {
	broker, err := NewBroker(context.Background(), &Config{Provider: ProviderMemory})
	require.NoError(t, err)
	defer broker.Close()

	_, ok := broker.(*MemoryBroker)
	assert.True(t, ok)
}

func TestNewBroker_InvalidConfig(t *testing.T) {
	_, err := NewBroker(context.Background(), &Config{Provider: ProviderAWS})
	require.Error(t, err)
}
