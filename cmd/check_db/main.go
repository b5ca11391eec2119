package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/saiproject-202/ClassVibe/internal/database"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

func main() {
	// Load .env file (없어도 진행)
	_ = godotenv.Load()

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close(db)

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// 테이블 존재 여부
	tables := []interface{}{
		&model.User{}, &model.Group{}, &model.GroupMember{},
		&model.Message{}, &model.Poll{}, &model.Upload{},
	}
	fmt.Println("📋 Tables:")
	for _, t := range tables {
		name := fmt.Sprintf("%T", t)
		if db.Migrator().HasTable(t) {
			var count int64
			db.Model(t).Count(&count)
			fmt.Printf("  - %-22s rows=%d\n", name, count)
		} else {
			fmt.Printf("  - %-22s ❌ missing\n", name)
		}
	}
	fmt.Println()

	// 세션 통계
	type SessionStats struct {
		Total  int64
		Active int64
		Ended  int64
	}
	var stats SessionStats
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN is_active THEN 1 END) as active,
			COUNT(CASE WHEN NOT is_active THEN 1 END) as ended
		FROM class_groups
	`
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatal("Failed to get statistics:", err)
	}

	fmt.Println("📈 Session Statistics:")
	fmt.Printf("  - Total sessions: %d\n", stats.Total)
	fmt.Printf("  - Active: %d\n", stats.Active)
	fmt.Printf("  - Ended: %d\n", stats.Ended)
	fmt.Println()

	// 최근 세션
	var recent []model.Group
	if err := db.Order("created_at DESC").Limit(10).Find(&recent).Error; err != nil {
		log.Fatal("Failed to get recent sessions:", err)
	}

	fmt.Println("🏫 Recent Sessions (last 10):")
	for _, g := range recent {
		var members int64
		db.Model(&model.GroupMember{}).Where("group_id = ?", g.ID).Count(&members)
		fmt.Printf("  - %s %q code=%s active=%v members=%d\n", g.ID, g.Name, g.Code, g.IsActive, members)
	}
}
