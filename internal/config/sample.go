package config

import (
	"fmt"
	"os"
)

const sampleConfig = `# netshell configuration
#
# ${NAME} is replaced from the environment or a .env file next to this file.
# {{ path }} and {% for x in list %}...{% endfor %} are rendered per step from
# pipeline variables.

variables:
  app_name: demo
  packages: [curl, git]

default_timeout: 60
max_parallel_targets: 0
stop_on_pipeline_failure: false

log:
  level: info
  format: console

clients:
  workstation:
    execution_method: local
    local_config:
      shell: /bin/sh
  # web1:
  #   execution_method: ssh
  #   ssh_config:
  #     host: 10.0.0.10
  #     port: 22
  #     username: deploy
  #     private_key_path: ~/.ssh/id_ed25519
  #     known_hosts_path: ~/.ssh/known_hosts

# event_sinks:
#   kafka:
#     brokers: ["localhost:9092"]
#     topic: netshell-events

pipelines:
  - name: inspect
    steps:
      - name: system_info
        script: |
          echo "OS Version: $(uname -s) $(uname -r)"
        servers: [workstation]
        extract:
          - name: os_version
            patterns: ["OS Version: (.+)"]
            source: stdout
      - name: report
        script: |
          echo "{{ app_name }} runs on {{ os_version }}"
          {% for p in packages %}command -v {{ p }} || echo "missing {{ p }}"
          {% endfor %}
        timeout_seconds: 30
`

// WriteSample writes a starter configuration to path. An existing file is
// never overwritten.
func WriteSample(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists", path)
		}
		return err
	}
	if _, err := f.WriteString(sampleConfig); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
