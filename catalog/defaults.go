package catalog

// defaultTemplates is the built-in catalog used when no catalog file is
// configured.
func defaultTemplates() []AppTemplate {
	return []AppTemplate{
		{
			ID:          "nginx-demo",
			Name:        "Nginx Demo",
			Icon:        "🌐",
			Category:    "web",
			Description: "Plain nginx serving its default page. Good first deployment.",
			Resources:   Resources{CPU: 1, MemoryMiB: 1024, DiskGiB: 10},
			Tags:        []string{"web", "demo"},
			Compose: `services:
  web:
    image: nginx:alpine
    restart: unless-stopped
    ports:
      - "80:80"
`,
		},
		{
			ID:          "wordpress",
			Name:        "WordPress",
			Icon:        "📝",
			Category:    "cms",
			Description: "WordPress with MariaDB, generated database credentials.",
			Resources:   Resources{CPU: 2, MemoryMiB: 2048, DiskGiB: 20},
			Tags:        []string{"cms", "blog", "php"},
			Compose: `services:
  web:
    image: wordpress:latest
    restart: unless-stopped
    ports:
      - "80:80"
    environment:
      WORDPRESS_DB_HOST: db
      WORDPRESS_DB_USER: wordpress
      WORDPRESS_DB_PASSWORD: __GENERATED_PASSWORD__
      WORDPRESS_DB_NAME: wordpress
    volumes:
      - wp_data:/var/www/html
  db:
    image: mariadb:11
    restart: unless-stopped
    environment:
      MARIADB_DATABASE: wordpress
      MARIADB_USER: wordpress
      MARIADB_PASSWORD: __GENERATED_PASSWORD__
      MARIADB_ROOT_PASSWORD: __GENERATED_ROOT_PASSWORD__
    volumes:
      - db_data:/var/lib/mysql
volumes:
  wp_data:
  db_data:
`,
		},
		{
			ID:          "grafana",
			Name:        "Grafana",
			Icon:        "📊",
			Category:    "monitoring",
			Description: "Grafana with a Prometheus sidecar and a generated admin password.",
			Resources:   Resources{CPU: 1, MemoryMiB: 2048, DiskGiB: 10},
			Tags:        []string{"monitoring", "metrics"},
			Compose: `services:
  grafana:
    image: grafana/grafana:latest
    restart: unless-stopped
    ports:
      - "3000:3000"
    environment:
      GF_SECURITY_ADMIN_PASSWORD: __GENERATED_PASSWORD__
    volumes:
      - grafana_data:/var/lib/grafana
  prometheus:
    image: prom/prometheus:latest
    restart: unless-stopped
    volumes:
      - ./prometheus.yml:/etc/prometheus/prometheus.yml:ro
volumes:
  grafana_data:
`,
		},
		{
			ID:          "uptime-kuma",
			Name:        "Uptime Kuma",
			Icon:        "🟢",
			Category:    "monitoring",
			Description: "Self-hosted uptime monitoring with a clean status page.",
			Resources:   Resources{CPU: 1, MemoryMiB: 1024, DiskGiB: 10},
			Tags:        []string{"monitoring", "status"},
			Compose: `services:
  app:
    image: louislam/uptime-kuma:1
    restart: unless-stopped
    ports:
      - "3001:3001"
    volumes:
      - kuma_data:/app/data
volumes:
  kuma_data:
`,
		},
	}
}
