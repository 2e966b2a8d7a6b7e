// Package config loads the controller configuration.
//
// Values come from a YAML file first and are then overridden by UNIBUS_*
// environment variables; Validate runs last. Secrets such as the MQTT
// password and the InfluxDB token are best supplied through the
// environment so the file can stay world-readable.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, line := range cfg.Bus.PermanentLines {
//	    fmt.Println(line.Name, line.Port)
//	}
package config
