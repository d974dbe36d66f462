// Package main provides the game server binary: the session, combat, and
// movement core behind a JSON-lines TCP listener.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/config"
	"github.com/emberwake/mud/internal/game/aggro"
	"github.com/emberwake/mud/internal/game/combat"
	"github.com/emberwake/mud/internal/game/dice"
	"github.com/emberwake/mud/internal/game/event"
	"github.com/emberwake/mud/internal/game/locale"
	"github.com/emberwake/mud/internal/game/monster"
	"github.com/emberwake/mud/internal/game/movement"
	"github.com/emberwake/mud/internal/game/session"
	"github.com/emberwake/mud/internal/game/world"
	"github.com/emberwake/mud/internal/gameserver"
	"github.com/emberwake/mud/internal/observability"
	"github.com/emberwake/mud/internal/scripting"
	"github.com/emberwake/mud/internal/server"
	"github.com/emberwake/mud/internal/storage/postgres"
	"github.com/emberwake/mud/internal/transport/tcpline"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	zonesDir := flag.String("zones", "content/zones", "path to zone YAML files directory")
	monstersDir := flag.String("monsters-dir", "content/monsters", "path to monster YAML templates directory")
	globalScriptDir := flag.String("global-scripts", "", "directory of shared Lua scripts; empty = none")
	respawnTick := flag.Duration("respawn-tick", 10*time.Second, "monster respawn check interval")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	roller := dice.NewLoggedRoller(dice.NewCryptoSource(), logger)

	logger.Info("starting game server", zap.String("addr", cfg.Server.Addr()))

	// Load world
	zoneStart := time.Now()
	zones, err := world.LoadZonesFromDir(*zonesDir)
	if err != nil {
		logger.Fatal("loading zones", zap.Error(err))
	}
	worldMgr, err := world.NewManager(zones)
	if err != nil {
		logger.Fatal("creating world manager", zap.Error(err))
	}
	if err := worldMgr.ValidateExits(); err != nil {
		logger.Fatal("validating exits", zap.Error(err))
	}
	logger.Info("world loaded",
		zap.Int("zones", len(zones)),
		zap.Int("rooms", worldMgr.RoomCount()),
		zap.Duration("elapsed", time.Since(zoneStart)),
	)

	// Connect to PostgreSQL for character persistence
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	charRepo := postgres.NewCharacterRepository(pool.DB())

	// Load monster templates and spawn initial instances
	templates, err := monster.LoadTemplates(*monstersDir)
	if err != nil {
		logger.Fatal("loading monster templates", zap.Error(err))
	}
	templateByID, err := monster.TemplateMap(templates)
	if err != nil {
		logger.Fatal("indexing monster templates", zap.Error(err))
	}
	logger.Info("loaded monster templates", zap.Int("count", len(templates)))

	monsterMgr := monster.NewManager()

	// Build per-room spawn configs from zone data.
	roomSpawns := make(map[string][]monster.RoomSpawn)
	for _, zone := range worldMgr.AllZones() {
		for _, room := range zone.Rooms {
			for _, sc := range room.Spawns {
				tmpl, ok := templateByID[sc.Template]
				if !ok {
					logger.Fatal("spawn references unknown monster template",
						zap.String("zone", zone.ID),
						zap.String("room", room.ID),
						zap.String("template", sc.Template),
					)
				}
				var delay time.Duration
				switch {
				case sc.RespawnAfter != "":
					d, err := time.ParseDuration(sc.RespawnAfter)
					if err != nil {
						logger.Fatal("invalid respawn_after duration",
							zap.String("room", room.ID),
							zap.String("template", sc.Template),
							zap.String("value", sc.RespawnAfter),
							zap.Error(err),
						)
					}
					delay = d
				case tmpl.RespawnDelay != "":
					d, err := time.ParseDuration(tmpl.RespawnDelay)
					if err != nil {
						logger.Fatal("invalid respawn_delay on template",
							zap.String("template", tmpl.ID),
							zap.String("value", tmpl.RespawnDelay),
							zap.Error(err),
						)
					}
					delay = d
				}
				roomSpawns[room.ID] = append(roomSpawns[room.ID], monster.RoomSpawn{
					TemplateID:   sc.Template,
					Max:          sc.Count,
					RespawnDelay: delay,
				})
			}
		}
	}
	respawns := monster.NewRespawnScheduler(roomSpawns, templateByID)
	for roomID := range roomSpawns {
		respawns.PopulateRoom(roomID, monsterMgr)
	}
	logger.Info("initial monster population complete",
		zap.Int("room_configs", len(roomSpawns)),
		zap.Int("instances", monsterMgr.Count()),
	)

	// Initialise scripting engine
	scriptStart := time.Now()
	scriptMgr := scripting.NewManager(roller, logger)
	if *globalScriptDir != "" {
		if err := scriptMgr.LoadGlobal(*globalScriptDir, 0); err != nil {
			logger.Fatal("loading global scripts",
				zap.String("dir", *globalScriptDir), zap.Error(err))
		}
	}
	for _, zone := range worldMgr.AllZones() {
		if zone.ScriptDir == "" {
			continue
		}
		info, err := os.Stat(zone.ScriptDir)
		if err != nil || !info.IsDir() {
			logger.Warn("zone script_dir not found, skipping",
				zap.String("zone", zone.ID), zap.String("dir", zone.ScriptDir))
			continue
		}
		if err := scriptMgr.LoadZone(zone.ID, zone.ScriptDir, 0); err != nil {
			logger.Fatal("loading zone scripts",
				zap.String("zone", zone.ID), zap.Error(err))
		}
		logger.Info("zone scripts loaded",
			zap.String("zone", zone.ID), zap.String("dir", zone.ScriptDir))
	}
	logger.Info("scripting engine initialized",
		zap.Duration("elapsed", time.Since(scriptStart)))

	// Wire the event path: registry, router, engine, movement.
	registry := session.NewRegistry(cfg.Game.EventBuffer)
	follows := movement.NewFollowGraph()

	throttled := make([]event.Kind, 0, len(cfg.Game.ThrottledKinds))
	for _, k := range cfg.Game.ThrottledKinds {
		throttled = append(throttled, event.Kind(k))
	}
	router := event.NewRouter(registry, logger,
		event.WithStaleFunc(func(sessionID string) {
			follows.Remove(sessionID)
			_ = registry.Unregister(sessionID)
		}),
		event.WithThrottle(cfg.Game.ThrottleInterval, throttled),
	)

	defaultAction, err := combat.ParseAction(cfg.Game.DefaultAction)
	if err != nil {
		logger.Fatal("invalid default action", zap.Error(err))
	}
	messages := locale.Default()
	engine := combat.NewEngine(router, monsterMgr, roller, messages, combat.Tunables{
		TurnTimeout:           cfg.Game.TurnTimeout,
		DefaultAction:         defaultAction,
		FleeChance:            cfg.Game.FleeChance,
		PlayerDamage:          cfg.Game.PlayerDamage,
		MonsterFallbackDamage: cfg.Game.MonsterDamage,
	}, logger,
		combat.WithDeathSink(gameserver.NewRespawnSink(monsterMgr, respawns, logger)),
		combat.WithHook(gameserver.NewScriptHook(scriptMgr, worldMgr)),
	)

	trigger := aggro.NewTrigger(monsterMgr, engine, router, messages, logger)
	mover := movement.NewOrchestrator(registry, worldMgr, follows, trigger, cfg.Game.FollowDepthLimit, logger)

	srv := gameserver.NewServer(registry, engine, mover, follows, worldMgr, charRepo, trigger, cfg.Game, logger)
	acceptor := tcpline.NewAcceptor(cfg.Server, tcpline.NewHandler(srv, cfg.Server, logger), logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("tcp", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	respawnCtx, cancelRespawns := context.WithCancel(ctx)
	lifecycle.Add("respawn", &server.FuncService{
		StartFn: func() error {
			return gameserver.RespawnService(respawns, monsterMgr, *respawnTick)(respawnCtx)
		},
		StopFn: cancelRespawns,
	})

	coreDone := make(chan struct{})
	lifecycle.Add("game-core", &server.FuncService{
		StartFn: func() error {
			<-coreDone
			return nil
		},
		StopFn: func() {
			close(coreDone)
			engine.Shutdown()
			scriptMgr.Close()
		},
	})

	healthCtx, cancelHealth := context.WithCancel(ctx)
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			return gameserver.HealthService(pool, 30*time.Second, logger)(healthCtx)
		},
		StopFn: func() {
			cancelHealth()
			pool.Close()
		},
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
