// Package config loads the daemon's environment-variable configuration.
// Every setting is optional and falls back to a documented default;
// nothing is read from a config file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved set of environment-derived settings.
type Config struct {
	DNSDomain       string
	DNSWildcard     bool
	LBDomain        string
	DockerSocket    string
	LibvirtSocket   string
	LibvirtIPTimeout time.Duration
	ExternalIP      string

	HAProxyConfigTemplate string
	HAProxyConfigFile     string
	DNSMasqHostsFile      string
	DNSMasqWildcardsFile  string

	MetricsAddr string
	LogLevel    string
	LogJSON     bool
}

// Load reads the environment (and any already-set process environment
// variables) into a Config, applying the documented defaults.
func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("DNS_DOMAIN", "local")
	v.SetDefault("DNS_WILDCARD", false)
	v.SetDefault("LB_DOMAIN", "local")
	v.SetDefault("DOCKER_SOCKET", "unix:///var/run/docker.sock")
	v.SetDefault("LIBVIRT_SOCKET", "/var/run/libvirt/libvirt-sock")
	v.SetDefault("LIBVIRT_IP_TIMEOUT", 30.0)
	v.SetDefault("EXTERNAL_IP", "")

	v.SetDefault("HAPROXY_CONFIG_TEMPLATE", "/etc/dalidock/haproxy.cfg.tmpl")
	v.SetDefault("HAPROXY_CONFIG_FILE", "/etc/haproxy/haproxy.cfg")
	v.SetDefault("DNSMASQ_HOSTS_FILE", "/etc/dnsmasq/hosts")
	v.SetDefault("DNSMASQ_WILDCARDS_FILE", "/etc/dnsmasq/wildcards")

	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)

	return Config{
		DNSDomain:        v.GetString("DNS_DOMAIN"),
		DNSWildcard:      v.GetBool("DNS_WILDCARD"),
		LBDomain:         v.GetString("LB_DOMAIN"),
		DockerSocket:     v.GetString("DOCKER_SOCKET"),
		LibvirtSocket:    v.GetString("LIBVIRT_SOCKET"),
		LibvirtIPTimeout: time.Duration(v.GetFloat64("LIBVIRT_IP_TIMEOUT") * float64(time.Second)),
		ExternalIP:       v.GetString("EXTERNAL_IP"),

		HAProxyConfigTemplate: v.GetString("HAPROXY_CONFIG_TEMPLATE"),
		HAProxyConfigFile:     v.GetString("HAPROXY_CONFIG_FILE"),
		DNSMasqHostsFile:      v.GetString("DNSMASQ_HOSTS_FILE"),
		DNSMasqWildcardsFile:  v.GetString("DNSMASQ_WILDCARDS_FILE"),

		MetricsAddr: v.GetString("METRICS_ADDR"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogJSON:     v.GetBool("LOG_JSON"),
	}
}
