package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	MongoURI         string
	MongoDatabase    string
	LogLevel         string
	LogFormat        string
	TorrentDataDir   string
	SubtitleCacheDir string
	HLSDir           string
	FFMPEGPath       string
	FFProbePath      string

	MetadataWaitTimeout time.Duration

	// Range streaming.
	StreamInitialChunkBytes int64
	StreamMaxChunkBytes     int64
	StreamReadaheadBytes    int64

	// Probe readiness: either the fixed header window or the fraction,
	// whichever is smaller for the file, must be downloaded.
	ProbeMinHeaderBytes int64
	ProbeMinFraction    float64

	// Subtitle extraction tiers.
	SubtitleHeadFraction     float64
	SubtitleCompleteFraction float64
	SubtitleWaitTimeout      time.Duration

	// HLS.
	HLSMinFraction    float64
	HLSStartupTimeout time.Duration
	HLSAudioBitrate   string

	// Request rate governor.
	RateGlobalRPS     float64
	RateGlobalBurst   int
	RateClientRPS     float64
	RateClientBurst   int
	RateBlockCooldown time.Duration
	RateEntryTTL      time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DB", "swarmstream"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:   getEnv("TORRENT_DATA_DIR", "data"),
		SubtitleCacheDir: getEnv("SUBTITLE_CACHE_DIR", "subtitle-cache"),
		HLSDir:           getEnv("HLS_DIR", "hls-cache"),
		FFMPEGPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:      getEnv("FFPROBE_PATH", "ffprobe"),

		MetadataWaitTimeout: getEnvDuration("METADATA_WAIT_TIMEOUT", 60*time.Second),

		StreamInitialChunkBytes: getEnvInt64("STREAM_INITIAL_CHUNK_BYTES", 8<<20),
		StreamMaxChunkBytes:     getEnvInt64("STREAM_MAX_CHUNK_BYTES", 32<<20),
		StreamReadaheadBytes:    getEnvInt64("STREAM_READAHEAD_BYTES", 16<<20),

		ProbeMinHeaderBytes: getEnvInt64("PROBE_MIN_HEADER_BYTES", 16<<20),
		ProbeMinFraction:    getEnvFloat("PROBE_MIN_FRACTION", 0.03),

		SubtitleHeadFraction:     getEnvFloat("SUBTITLE_HEAD_FRACTION", 0.35),
		SubtitleCompleteFraction: getEnvFloat("SUBTITLE_COMPLETE_FRACTION", 0.95),
		SubtitleWaitTimeout:      getEnvDuration("SUBTITLE_WAIT_TIMEOUT", 2*time.Minute),

		HLSMinFraction:    getEnvFloat("HLS_MIN_FRACTION", 0.08),
		HLSStartupTimeout: getEnvDuration("HLS_STARTUP_TIMEOUT", 30*time.Second),
		HLSAudioBitrate:   getEnv("HLS_AUDIO_BITRATE", "128k"),

		RateGlobalRPS:     getEnvFloat("RATE_GLOBAL_RPS", 200),
		RateGlobalBurst:   int(getEnvInt64("RATE_GLOBAL_BURST", 400)),
		RateClientRPS:     getEnvFloat("RATE_CLIENT_RPS", 25),
		RateClientBurst:   int(getEnvInt64("RATE_CLIENT_BURST", 50)),
		RateBlockCooldown: getEnvDuration("RATE_BLOCK_COOLDOWN", 30*time.Second),
		RateEntryTTL:      getEnvDuration("RATE_ENTRY_TTL", 10*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
