// Package config loads config.yaml for the bridge.
//
// Values are layered: built-in defaults, then the YAML file, then the
// environment. The broker variables keep the names older deployments use
// (MQTT_BROKER_IP, MQTT_CLIENT_PASSWORD, ...); everything else is
// FINDMY_*. Put the MQTT password and InfluxDB token in the environment,
// usually a .env file, not in the YAML.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, p := range cfg.SnapshotPaths() {
//	    ...
//	}
package config
